package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound はアカウントが存在しないことを表す。
var ErrNotFound = errors.New("アカウントが見つかりません")

// Account はゲートウェイで認証されるアカウント。
type Account struct {
	// ID はアカウントの一意識別子（UUID）。
	ID string
	// Email はメールアドレス。アカウントごとに一意。
	Email string
	// DisplayName は表示名。
	DisplayName string
	// CreatedAt は作成日時。
	CreatedAt time.Time
	// LastLoginAt は最終ログイン日時。
	LastLoginAt time.Time
}

// Store はアカウントテーブルへのクエリ実行オブジェクト。
type Store struct {
	db *sql.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create はアカウントを新規作成する。
func (s *Store) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, email, display_name) VALUES (?, ?, ?)`,
		a.ID, a.Email, a.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("アカウントの作成に失敗: %w", err)
	}
	return nil
}

// GetByID は指定されたIDのアカウントを取得する。
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at, last_login_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetByEmail は指定されたメールアドレスのアカウントを取得する。
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at, last_login_at FROM accounts WHERE email = ?`, email)
	return scanAccount(row)
}

// TouchLastLogin は最終ログイン日時を現在時刻に更新する。
func (s *Store) TouchLastLogin(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET last_login_at = datetime('now') WHERE id = ?`, id); err != nil {
		return fmt.Errorf("最終ログイン日時の更新に失敗: %w", err)
	}
	return nil
}

// scanAccount は1行をAccountへ変換する。
func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.CreatedAt, &a.LastLoginAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("アカウント行の読み取りに失敗: %w", err)
	}
	return &a, nil
}
