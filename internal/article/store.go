package article

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// 記事のステータス。公開ワークフローの状態遷移を表す。
const (
	// StatusDraft は下書き状態。
	StatusDraft = "DRAFT"
	// StatusPendingPublish は公開リクエスト済みでモデレーション待ちの状態。
	StatusPendingPublish = "PENDING_PUBLISH"
	// StatusPublished は公開済みの状態。
	StatusPublished = "PUBLISHED"
	// StatusRejected はモデレーションで却下された状態。
	StatusRejected = "REJECTED"
	// StatusError はワークフローが復旧不能な失敗で終わった状態。
	StatusError = "ERROR"
)

// ErrNotFound は指定された記事が存在しないことを表す。
var ErrNotFound = errors.New("記事が見つかりません")

// Article は記事のDB行。
type Article struct {
	// ID は記事の一意識別子（UUID）。
	ID string
	// AuthorID は著者のユーザーID。
	AuthorID string
	// Title は記事のタイトル。
	Title string
	// Body は記事の本文。
	Body string
	// Slug はタイトルから生成した一意のスラッグ。
	Slug string
	// Status は記事のステータス。
	Status string
	// PreviewURL はプレビュー画像のURL。未生成の場合は無効値。
	PreviewURL sql.NullString
	// RejectedReason はモデレーション却下の理由。却下されていない場合は無効値。
	RejectedReason sql.NullString
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// Store は記事テーブルへのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create は記事を新規作成する。
func (s *Store) Create(ctx context.Context, a *Article) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (id, author_id, title, body, slug, status) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.AuthorID, a.Title, a.Body, a.Slug, a.Status,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗: %w", err)
	}
	return nil
}

// GetByID は指定されたIDの記事を取得する。
func (s *Store) GetByID(ctx context.Context, id string) (*Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, author_id, title, body, slug, status, preview_url, rejected_reason, created_at, updated_at
		 FROM articles WHERE id = ?`, id)
	return scanArticle(row)
}

// GetBySlug は指定されたスラッグの記事を取得する。
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Article, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, author_id, title, body, slug, status, preview_url, rejected_reason, created_at, updated_at
		 FROM articles WHERE slug = ?`, slug)
	return scanArticle(row)
}

// SlugExists は指定されたスラッグが既に使用されているかを返す。
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE slug = ?`, slug).Scan(&n); err != nil {
		return false, fmt.Errorf("スラッグの重複確認に失敗: %w", err)
	}
	return n > 0, nil
}

// UpdateStatus は記事のステータスを更新する。
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	return s.exec(ctx,
		`UPDATE articles SET status = ?, updated_at = datetime('now') WHERE id = ?`,
		status, id)
}

// UpdatePreviewURL は記事のプレビューURLを設定する。
func (s *Store) UpdatePreviewURL(ctx context.Context, id, previewURL string) error {
	return s.exec(ctx,
		`UPDATE articles SET preview_url = ?, updated_at = datetime('now') WHERE id = ?`,
		previewURL, id)
}

// ClearPreviewURL は記事のプレビューURLを消去する。ステータスは変更しない。
func (s *Store) ClearPreviewURL(ctx context.Context, id string) error {
	return s.exec(ctx,
		`UPDATE articles SET preview_url = NULL, updated_at = datetime('now') WHERE id = ?`,
		id)
}

// MarkRejected は記事を却下状態にし、却下理由を記録する。
func (s *Store) MarkRejected(ctx context.Context, id, reason string) error {
	return s.exec(ctx,
		`UPDATE articles SET status = ?, rejected_reason = ?, updated_at = datetime('now') WHERE id = ?`,
		StatusRejected, reason, id)
}

// exec は更新系クエリを実行し、対象行がない場合はErrNotFoundを返す。
func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新行数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanArticle は1行をArticleへ読み取る。行がない場合はErrNotFoundを返す。
func scanArticle(row *sql.Row) (*Article, error) {
	var a Article
	err := row.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Body, &a.Slug, &a.Status,
		&a.PreviewURL, &a.RejectedReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("記事の読み取りに失敗: %w", err)
	}
	return &a, nil
}
