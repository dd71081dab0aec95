package task

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

// TestDecodeModerate はモデレーションペイロードのデコードを検証する。
func TestDecodeModerate(t *testing.T) {
	t.Parallel()

	articleID := uuid.New().String()
	authorID := uuid.New().String()
	requesterID := uuid.New().String()

	t.Run("有効なペイロードをデコードできること", func(t *testing.T) {
		t.Parallel()

		p, err := DecodeModerate(map[string]string{
			"article_id":      articleID,
			"author_id":       authorID,
			"requested_by_id": requesterID,
			"title":           "タイトル",
			"body":            "本文",
		})
		if err != nil {
			t.Fatalf("DecodeModerate()でエラーが発生: %v", err)
		}
		if p.ArticleID != articleID {
			t.Errorf("ArticleID = %q, want %q", p.ArticleID, articleID)
		}
		if p.RequestedBy != requesterID {
			t.Errorf("RequestedBy = %q, want %q", p.RequestedBy, requesterID)
		}
		if p.Title != "タイトル" {
			t.Errorf("Title = %q, want %q", p.Title, "タイトル")
		}
	})

	t.Run("識別子が欠けている場合はErrMalformedPayload", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeModerate(map[string]string{
			"article_id": articleID,
			"title":      "タイトル",
		})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("識別子がUUIDでない場合はErrMalformedPayload", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeModerate(map[string]string{
			"article_id":      "broken",
			"author_id":       authorID,
			"requested_by_id": requesterID,
		})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}

// TestDecodeNotify は通知ペイロードのデコードを検証する。
func TestDecodeNotify(t *testing.T) {
	t.Parallel()

	t.Run("有効なペイロードをデコードできること", func(t *testing.T) {
		t.Parallel()

		articleID := uuid.New().String()
		authorID := uuid.New().String()
		p, err := DecodeNotify(map[string]string{
			"article_id": articleID,
			"author_id":  authorID,
		})
		if err != nil {
			t.Fatalf("DecodeNotify()でエラーが発生: %v", err)
		}
		if p.ArticleID != articleID || p.AuthorID != authorID {
			t.Errorf("デコード結果が不一致: %+v", p)
		}
	})

	t.Run("author_idが欠けている場合はエラー", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeNotify(map[string]string{"article_id": uuid.New().String()})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}

// TestDecodeDeadLetter はデッドレターペイロードのデコードを検証する。
func TestDecodeDeadLetter(t *testing.T) {
	t.Parallel()

	articleID := uuid.New().String()

	t.Run("ペイロード内の明示的な種別を優先すること", func(t *testing.T) {
		t.Parallel()

		p, err := DecodeDeadLetter(map[string]string{
			"task_name":     "some.mystery.task",
			"article_id":    articleID,
			FieldOriginKind: string(KindGeneratePreview),
			"error":         "boom",
		})
		if err != nil {
			t.Fatalf("DecodeDeadLetter()でエラーが発生: %v", err)
		}
		if p.Kind != KindGeneratePreview {
			t.Errorf("Kind = %q, want %q", p.Kind, KindGeneratePreview)
		}
		if p.Error != "boom" {
			t.Errorf("Error = %q, want %q", p.Error, "boom")
		}
	})

	t.Run("種別がない場合はタスク名から推定すること", func(t *testing.T) {
		t.Parallel()

		p, err := DecodeDeadLetter(map[string]string{
			"task_name":  "src.tasks.saga.moderate_post",
			"article_id": articleID,
		})
		if err != nil {
			t.Fatalf("DecodeDeadLetter()でエラーが発生: %v", err)
		}
		if p.Kind != KindModerate {
			t.Errorf("Kind = %q, want %q", p.Kind, KindModerate)
		}
	})

	t.Run("post_idキーでも記事識別子を受け付けること", func(t *testing.T) {
		t.Parallel()

		p, err := DecodeDeadLetter(map[string]string{
			"task_name": "legacy.publish_post",
			"post_id":   articleID,
		})
		if err != nil {
			t.Fatalf("DecodeDeadLetter()でエラーが発生: %v", err)
		}
		if p.ArticleID != articleID {
			t.Errorf("ArticleID = %q, want %q", p.ArticleID, articleID)
		}
	})

	t.Run("不明なタスク名はKindUnknownのままデコードできること", func(t *testing.T) {
		t.Parallel()

		p, err := DecodeDeadLetter(map[string]string{
			"task_name":  "some.mystery.task",
			"article_id": articleID,
		})
		if err != nil {
			t.Fatalf("DecodeDeadLetter()でエラーが発生: %v", err)
		}
		if p.Kind != KindUnknown {
			t.Errorf("Kind = %q, want %q", p.Kind, KindUnknown)
		}
	})

	t.Run("記事識別子がない場合はエラー", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeDeadLetter(map[string]string{"task_name": "saga.moderate_article"})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})

	t.Run("task_nameがない場合はエラー", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeDeadLetter(map[string]string{"article_id": articleID})
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("err = %v, want ErrMalformedPayload", err)
		}
	})
}
