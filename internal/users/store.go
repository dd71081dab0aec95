package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 通知台帳の配送状態。
const (
	// LogPending は配送待ちの状態。
	LogPending = "pending"
	// LogProcessing は配送処理中の状態。
	LogProcessing = "processing"
	// LogSent は配送済みの状態。この状態のエントリは二度と変更されない。
	LogSent = "sent"
	// LogFailed は配送に失敗した状態。
	LogFailed = "failed"
)

// ErrNotFound は指定されたエントリが存在しないことを表す。
var ErrNotFound = errors.New("エントリが見つかりません")

// SubscriberKey は著者の購読者1人と、その配送キーの組。
type SubscriberKey struct {
	// SubscriberID は購読者のユーザーID。
	SubscriberID string
	// SubscriptionKey はプッシュ通知の配送キー。未登録の場合は無効値。
	SubscriptionKey sql.NullString
}

// NotificationLog は通知台帳のDB行。
// 購読者と記事の組み合わせごとに1件だけ存在し、配送の冪等性を保証する。
type NotificationLog struct {
	// ID は台帳エントリの一意識別子。
	ID string
	// SubscriberID は通知先の購読者のユーザーID。
	SubscriberID string
	// AuthorID は記事の著者のユーザーID。
	AuthorID string
	// ArticleID は対象記事の識別子。
	ArticleID string
	// Status は配送状態。
	Status string
	// Attempts は配送を試みた回数。
	Attempts int
	// LastError は直近の失敗時のエラー文字列。
	LastError sql.NullString
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// UpdatedAt は更新日時。
	UpdatedAt time.Time
}

// Store は購読者ディレクトリと通知台帳へのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertSubscriptionKey はユーザーの配送キーを登録または置き換える。
// ユーザー行が存在しない場合は新規作成する。
func (s *Store) UpsertSubscriptionKey(ctx context.Context, userID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, subscription_key) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET subscription_key = excluded.subscription_key, updated_at = datetime('now')
	`, userID, key)
	if err != nil {
		return fmt.Errorf("配送キーの登録に失敗: %w", err)
	}
	return nil
}

// Subscribe は購読関係を登録する。既に登録済みの場合は何もしない。
func (s *Store) Subscribe(ctx context.Context, subscriberID, authorID string) error {
	// 購読者のユーザー行がなければ作成する（配送キーは未登録のまま）
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id) VALUES (?)`, subscriberID); err != nil {
		return fmt.Errorf("ユーザー行の作成に失敗: %w", err)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscribers (id, subscriber_id, author_id) VALUES (?, ?, ?)`,
		uuid.New().String(), subscriberID, authorID)
	if err != nil {
		return fmt.Errorf("購読の登録に失敗: %w", err)
	}
	return nil
}

// Unsubscribe は購読関係を解除する。
func (s *Store) Unsubscribe(ctx context.Context, subscriberID, authorID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscribers WHERE subscriber_id = ? AND author_id = ?`,
		subscriberID, authorID)
	if err != nil {
		return fmt.Errorf("購読の解除に失敗: %w", err)
	}
	return nil
}

// SubscribersOf は著者の購読者一覧を、各購読者の配送キーとともに返す。
func (s *Store) SubscribersOf(ctx context.Context, authorID string) ([]SubscriberKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sub.subscriber_id, u.subscription_key
		FROM subscribers sub
		JOIN users u ON u.id = sub.subscriber_id
		WHERE sub.author_id = ?
		ORDER BY sub.created_at
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("購読者一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var subscribers []SubscriberKey
	for rows.Next() {
		var sk SubscriberKey
		if err := rows.Scan(&sk.SubscriberID, &sk.SubscriptionKey); err != nil {
			return nil, fmt.Errorf("購読者の読み取りに失敗: %w", err)
		}
		subscribers = append(subscribers, sk)
	}
	return subscribers, rows.Err()
}

// GetOrCreateLog は購読者と記事の組み合わせの台帳エントリを取得または作成する。
// 既にsentの場合はnilを返す（配送済みの通知は二度と送らない）。
// それ以外の場合はstatusをpendingへ戻し、attemptsを1増やし、last_errorを消去する。
func (s *Store) GetOrCreateLog(ctx context.Context, subscriberID, authorID, articleID string) (*NotificationLog, error) {
	existing, err := s.getLog(ctx, subscriberID, articleID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if existing.Status == LogSent {
			return nil, nil
		}
		_, err = s.db.ExecContext(ctx, `
			UPDATE notification_logs
			SET status = ?, attempts = attempts + 1, last_error = NULL, updated_at = datetime('now')
			WHERE id = ?
		`, LogPending, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("台帳エントリの更新に失敗: %w", err)
		}
		return s.getLog(ctx, subscriberID, articleID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (id, subscriber_id, author_id, article_id, status, attempts)
		VALUES (?, ?, ?, ?, ?, 1)
	`, uuid.New().String(), subscriberID, authorID, articleID, LogPending)
	if err != nil {
		return nil, fmt.Errorf("台帳エントリの作成に失敗: %w", err)
	}
	return s.getLog(ctx, subscriberID, articleID)
}

// MarkProcessing は台帳エントリを処理中にする。
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	return s.updateLogStatus(ctx, id, LogProcessing, nil)
}

// MarkSent は台帳エントリを配送済みにし、エラー記録を消去する。
func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.updateLogStatus(ctx, id, LogSent, nil)
}

// MarkFailed は台帳エントリを失敗にし、エラー文字列を記録する。
func (s *Store) MarkFailed(ctx context.Context, id, lastError string) error {
	return s.updateLogStatus(ctx, id, LogFailed, &lastError)
}

// ListLogsBySubscriber は購読者の台帳エントリ一覧を新しい順に返す。
func (s *Store) ListLogsBySubscriber(ctx context.Context, subscriberID string) ([]NotificationLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subscriber_id, author_id, article_id, status, attempts, last_error, created_at, updated_at
		FROM notification_logs
		WHERE subscriber_id = ?
		ORDER BY created_at DESC
	`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("台帳一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var logs []NotificationLog
	for rows.Next() {
		var l NotificationLog
		if err := rows.Scan(&l.ID, &l.SubscriberID, &l.AuthorID, &l.ArticleID,
			&l.Status, &l.Attempts, &l.LastError, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("台帳エントリの読み取りに失敗: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// getLog は購読者と記事の組み合わせで台帳エントリを1件取得する。
func (s *Store) getLog(ctx context.Context, subscriberID, articleID string) (*NotificationLog, error) {
	var l NotificationLog
	err := s.db.QueryRowContext(ctx, `
		SELECT id, subscriber_id, author_id, article_id, status, attempts, last_error, created_at, updated_at
		FROM notification_logs
		WHERE subscriber_id = ? AND article_id = ?
	`, subscriberID, articleID).Scan(&l.ID, &l.SubscriberID, &l.AuthorID, &l.ArticleID,
		&l.Status, &l.Attempts, &l.LastError, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("台帳エントリの読み取りに失敗: %w", err)
	}
	return &l, nil
}

// updateLogStatus は台帳エントリの状態を更新する。sentのエントリは変更しない。
func (s *Store) updateLogStatus(ctx context.Context, id, status string, lastError *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_logs
		SET status = ?, last_error = ?, updated_at = datetime('now')
		WHERE id = ? AND status != ?
	`, status, lastError, id, LogSent)
	if err != nil {
		return fmt.Errorf("台帳エントリの更新に失敗: %w", err)
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
