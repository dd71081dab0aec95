package task

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedPayload はペイロードのデコードに失敗したことを表す。
// リトライで解決しない恒久的な失敗として扱うこと。
var ErrMalformedPayload = errors.New("ペイロードが不正です")

// ModeratePayload はモデレーションステージの型付きペイロード。
type ModeratePayload struct {
	// ArticleID は対象記事の識別子。
	ArticleID string
	// AuthorID は記事の著者の識別子。
	AuthorID string
	// Title は記事のタイトル。
	Title string
	// Body は記事の本文。
	Body string
	// RequestedBy は公開をリクエストしたユーザーの識別子。
	RequestedBy string
}

// PreviewPayload はプレビュー生成ステージの型付きペイロード。
type PreviewPayload struct {
	// ArticleID は対象記事の識別子。
	ArticleID string
	// AuthorID は記事の著者の識別子。
	AuthorID string
	// Title は記事のタイトル。
	Title string
	// Body は記事の本文。
	Body string
}

// PublishPayload は公開ステージの型付きペイロード。
type PublishPayload struct {
	// ArticleID は対象記事の識別子。
	ArticleID string
	// AuthorID は記事の著者の識別子。
	AuthorID string
}

// NotifyPayload は購読者通知ステージの型付きペイロード。
type NotifyPayload struct {
	// AuthorID は記事の著者の識別子。
	AuthorID string
	// ArticleID は対象記事の識別子。
	ArticleID string
}

// DeadLetterPayload はデッドレター処理タスクの型付きペイロード。
// 元タスクのペイロードをそのまま内包する。
type DeadLetterPayload struct {
	// TaskName は失敗した元タスクのタスク名。
	TaskName string
	// Kind は失敗した元タスクのステージ種別。
	Kind Kind
	// ArticleID は補償対象の記事の識別子。
	ArticleID string
	// Error は最終失敗時のエラー文字列。
	Error string
}

// DecodeModerate はペイロードをModeratePayloadへデコードする。
func DecodeModerate(p map[string]string) (*ModeratePayload, error) {
	articleID, err := requireID(p, "article_id")
	if err != nil {
		return nil, err
	}
	authorID, err := requireID(p, "author_id")
	if err != nil {
		return nil, err
	}
	requestedBy, err := requireID(p, "requested_by_id")
	if err != nil {
		return nil, err
	}
	return &ModeratePayload{
		ArticleID:   articleID,
		AuthorID:    authorID,
		Title:       p["title"],
		Body:        p["body"],
		RequestedBy: requestedBy,
	}, nil
}

// DecodePreview はペイロードをPreviewPayloadへデコードする。
func DecodePreview(p map[string]string) (*PreviewPayload, error) {
	articleID, err := requireID(p, "article_id")
	if err != nil {
		return nil, err
	}
	authorID, err := requireID(p, "author_id")
	if err != nil {
		return nil, err
	}
	return &PreviewPayload{
		ArticleID: articleID,
		AuthorID:  authorID,
		Title:     p["title"],
		Body:      p["body"],
	}, nil
}

// DecodePublish はペイロードをPublishPayloadへデコードする。
func DecodePublish(p map[string]string) (*PublishPayload, error) {
	articleID, err := requireID(p, "article_id")
	if err != nil {
		return nil, err
	}
	authorID, err := requireID(p, "author_id")
	if err != nil {
		return nil, err
	}
	return &PublishPayload{ArticleID: articleID, AuthorID: authorID}, nil
}

// DecodeNotify はペイロードをNotifyPayloadへデコードする。
func DecodeNotify(p map[string]string) (*NotifyPayload, error) {
	articleID, err := requireID(p, "article_id")
	if err != nil {
		return nil, err
	}
	authorID, err := requireID(p, "author_id")
	if err != nil {
		return nil, err
	}
	return &NotifyPayload{AuthorID: authorID, ArticleID: articleID}, nil
}

// DecodeDeadLetter はペイロードをDeadLetterPayloadへデコードする。
// 記事の識別子は "article_id" と "post_id" のどちらのキーでも受け付ける。
func DecodeDeadLetter(p map[string]string) (*DeadLetterPayload, error) {
	taskName := p["task_name"]
	if taskName == "" {
		return nil, fmt.Errorf("%w: task_name がありません", ErrMalformedPayload)
	}

	articleID := p["article_id"]
	if articleID == "" {
		articleID = p["post_id"]
	}
	if articleID == "" {
		return nil, fmt.Errorf("%w: 記事の識別子がありません", ErrMalformedPayload)
	}
	if err := ValidateID(articleID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	// 種別はペイロード内の明示的な値を優先し、なければタスク名から推定する
	kind := ParseKind(p[FieldOriginKind])
	if kind == KindUnknown {
		kind = ParseKind(taskName)
	}

	return &DeadLetterPayload{
		TaskName:  taskName,
		Kind:      kind,
		ArticleID: strings.TrimSpace(articleID),
		Error:     p["error"],
	}, nil
}

// requireID は必須の識別子フィールドを取り出して検証する。
func requireID(p map[string]string, key string) (string, error) {
	v, ok := p[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s がありません", ErrMalformedPayload, key)
	}
	if err := ValidateID(v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return strings.TrimSpace(v), nil
}
