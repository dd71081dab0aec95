package task

import (
	"testing"

	"github.com/google/uuid"
)

// TestParseKind はParseKindの変換ルールを検証する。
func TestParseKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want Kind
	}{
		{
			name: "完全一致するKindをそのまま返すこと",
			in:   "moderate",
			want: KindModerate,
		},
		{
			name: "generate_previewが完全一致すること",
			in:   "generate_preview",
			want: KindGeneratePreview,
		},
		{
			name: "外部由来のタスク名からmoderateを推定できること",
			in:   "src.tasks.saga.moderate_post",
			want: KindModerate,
		},
		{
			name: "タスク名にpreviewを含む場合はKindGeneratePreview",
			in:   "src.tasks.saga.generate_preview",
			want: KindGeneratePreview,
		},
		{
			name: "タスク名にpublishを含む場合はKindPublish",
			in:   "legacy.publish_post",
			want: KindPublish,
		},
		{
			name: "タスク名にnotifyを含む場合はKindNotify",
			in:   "NOTIFY_FOLLOWERS",
			want: KindNotify,
		},
		{
			name: "大文字小文字を無視して判定すること",
			in:   "Saga.MODERATE.Post",
			want: KindModerate,
		},
		{
			name: "どのキーワードにも一致しない場合はKindUnknown",
			in:   "some.mystery.task",
			want: KindUnknown,
		},
		{
			name: "空文字列はKindUnknown",
			in:   "",
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseKind(tt.in); got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestNew はメッセージ生成時の検証を確認する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("有効なペイロードでメッセージを生成できること", func(t *testing.T) {
		t.Parallel()

		articleID := uuid.New().String()
		authorID := uuid.New().String()

		msg, err := New(NameModerate, KindModerate, "saga", map[string]string{
			"article_id": articleID,
			"author_id":  authorID,
			"title":      "テスト記事",
		})
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if msg.Name != NameModerate {
			t.Errorf("Name = %q, want %q", msg.Name, NameModerate)
		}
		if msg.Queue != "saga" {
			t.Errorf("Queue = %q, want %q", msg.Queue, "saga")
		}
		// ステージ種別がペイロードに埋め込まれていること
		if msg.Payload[FieldKind] != string(KindModerate) {
			t.Errorf("Payload[%q] = %q, want %q", FieldKind, msg.Payload[FieldKind], KindModerate)
		}
		if msg.Payload["article_id"] != articleID {
			t.Errorf("Payload[article_id] = %q, want %q", msg.Payload["article_id"], articleID)
		}
	})

	t.Run("識別子フィールドが不正な場合はエラー", func(t *testing.T) {
		t.Parallel()

		_, err := New(NameModerate, KindModerate, "saga", map[string]string{
			"article_id": "not-a-uuid",
			"author_id":  uuid.New().String(),
		})
		if err == nil {
			t.Fatal("不正なUUIDでエラーが発生しなかった")
		}
	})

	t.Run("元のペイロードを破壊しないこと", func(t *testing.T) {
		t.Parallel()

		original := map[string]string{"article_id": uuid.New().String()}
		if _, err := New(NamePublish, KindPublish, "saga", original); err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		if _, ok := original[FieldKind]; ok {
			t.Error("呼び出し元のmapにステージ種別が書き込まれている")
		}
	})
}

// TestValidateID はUUID検証を確認する。
func TestValidateID(t *testing.T) {
	t.Parallel()

	t.Run("有効なUUIDを受け入れること", func(t *testing.T) {
		t.Parallel()
		if err := ValidateID(uuid.New().String()); err != nil {
			t.Errorf("有効なUUIDでエラー: %v", err)
		}
	})

	t.Run("前後の空白を許容すること", func(t *testing.T) {
		t.Parallel()
		if err := ValidateID("  " + uuid.New().String() + " "); err != nil {
			t.Errorf("空白付きUUIDでエラー: %v", err)
		}
	})

	t.Run("不正な文字列を拒否すること", func(t *testing.T) {
		t.Parallel()
		if err := ValidateID("12345"); err == nil {
			t.Error("不正な文字列がエラーにならなかった")
		}
	})
}
