package task

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind はSagaステージの種別を表す。
// デッドレター処理での補償アクション選択に使用するため、
// ペイロード内に明示的に埋め込んで配送する。
type Kind string

const (
	// KindModerate はモデレーションステージを表す。
	KindModerate Kind = "moderate"
	// KindGeneratePreview はプレビュー生成ステージを表す。
	KindGeneratePreview Kind = "generate_preview"
	// KindPublish は公開ステージを表す。
	KindPublish Kind = "publish"
	// KindNotify は購読者通知ステージを表す。
	KindNotify Kind = "notify"
	// KindDeadLetter はデッドレター処理タスクを表す。
	KindDeadLetter Kind = "dead_letter"
	// KindUnknown は種別を特定できないタスクを表す。
	KindUnknown Kind = "unknown"
)

// タスク名の定数。キュー登録とエンキューの双方で使用する。
const (
	// NameModerate はモデレーションタスクのタスク名。
	NameModerate = "saga.moderate_article"
	// NameGeneratePreview はプレビュー生成タスクのタスク名。
	NameGeneratePreview = "saga.generate_preview"
	// NamePublish は公開タスクのタスク名。
	NamePublish = "saga.publish_article"
	// NameNotify は購読者通知タスクのタスク名。
	NameNotify = "notifications.notify_followers"
	// NameDeadLetter はデッドレター処理タスクのタスク名。
	NameDeadLetter = "dlq.handle_failed_task"
)

// FieldKind はペイロード内でステージ種別を運ぶフィールド名。
const FieldKind = "_kind"

// FieldOriginKind はデッドレターペイロード内で失敗した元タスクの
// ステージ種別を運ぶフィールド名。デッドレタータスク自身のFieldKindは
// KindDeadLetterになるため、元の種別は別フィールドで保持する。
const FieldOriginKind = "origin_kind"

// ParseKind は文字列をKindへ変換する。
// 完全一致しない場合はタスク名に含まれるキーワードで判定する
// （外部システム由来のタスク名へのフォールバック）。
// どのキーワードにも一致しない場合はKindUnknownを返す。
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindModerate, KindGeneratePreview, KindPublish, KindNotify, KindDeadLetter:
		return Kind(s)
	}

	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "moderate"):
		return KindModerate
	case strings.Contains(lower, "preview"):
		return KindGeneratePreview
	case strings.Contains(lower, "publish"):
		return KindPublish
	case strings.Contains(lower, "notify"):
		return KindNotify
	}
	return KindUnknown
}

// Message はタスクキューで配送される1件のメッセージ。
// Payloadの値は常に文字列であり、識別子はエンキュー前に検証済みであること。
type Message struct {
	// Name はタスク名。ハンドラのディスパッチに使用する。
	Name string
	// Kind はSagaステージの種別。
	Kind Kind
	// Queue は配送先のキュー名。
	Queue string
	// Payload はタスク固有のデータ。
	Payload map[string]string
}

// New は新しいメッセージを生成する。
// ペイロードにステージ種別を埋め込み、識別子フィールド
// （"_id"で終わるキー）をUUIDとして検証する。
func New(name string, kind Kind, queue string, payload map[string]string) (*Message, error) {
	merged := make(map[string]string, len(payload)+1)
	for k, v := range payload {
		merged[k] = v
	}
	merged[FieldKind] = string(kind)

	for k, v := range merged {
		if !strings.HasSuffix(k, "_id") {
			continue
		}
		if err := ValidateID(v); err != nil {
			return nil, fmt.Errorf("フィールド %s の識別子が不正: %w", k, err)
		}
	}

	return &Message{
		Name:    name,
		Kind:    kind,
		Queue:   queue,
		Payload: merged,
	}, nil
}

// ValidateID は文字列が整形式のUUIDであることを検証する。
func ValidateID(s string) error {
	if _, err := uuid.Parse(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("UUIDとして解釈できません (%q): %w", s, err)
	}
	return nil
}
