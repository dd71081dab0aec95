package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/pubflow/pkg/task"
)

// Status はタスクの状態を表す。
type Status string

const (
	// StatusPending は実行待ちの状態。
	StatusPending Status = "pending"
	// StatusRunning はワーカーが請け負って実行中の状態。
	StatusRunning Status = "running"
	// StatusSucceeded はハンドラが正常終了した状態。
	StatusSucceeded Status = "succeeded"
	// StatusFailed はリトライが枯渇したか恒久的に失敗した状態。
	StatusFailed Status = "failed"
)

// ErrPermanent はリトライで解決しない恒久的な失敗を表すセンチネル。
// ハンドラがこのエラーを（ラップして）返した場合、タスクは即座に
// failedになり、リトライもデッドレター転送も行われない。
var ErrPermanent = errors.New("恒久的な失敗")

// Permanent はエラーを恒久的な失敗として分類する。
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Task はキューに永続化されたタスクの1行を表す。
type Task struct {
	// ID はタスクの一意識別子。
	ID string
	// Queue は配送先のキュー名。
	Queue string
	// Name はタスク名。
	Name string
	// Kind はSagaステージの種別。
	Kind task.Kind
	// Payload はタスク固有のデータ。
	Payload map[string]string
	// Status はタスクの状態。
	Status Status
	// Attempts は実行を試みた回数。
	Attempts int
	// LastError は直近の失敗時のエラー文字列。
	LastError string
	// RunAt は次に実行可能になる時刻。
	RunAt time.Time
}

// Client はタスクキューへのエンキューと状態遷移を行うクライアント。
type Client struct {
	db *sql.DB
}

// New はタスクキュークライアントを生成し、スキーマを適用する。
func New(db *sql.DB) (*Client, error) {
	if err := initSchema(db); err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// EnqueueOption はエンキュー時の挙動を調整するオプション。
type EnqueueOption func(*enqueueConfig)

type enqueueConfig struct {
	delay time.Duration
}

// WithDelay は指定時間後まで実行を遅延させる。
func WithDelay(d time.Duration) EnqueueOption {
	return func(c *enqueueConfig) { c.delay = d }
}

// Enqueue はメッセージを永続化し、タスクIDを返す。
// メッセージの識別子フィールドはtask.Newで検証済みであることを前提とする。
func (c *Client) Enqueue(ctx context.Context, msg *task.Message, opts ...EnqueueOption) (string, error) {
	var cfg enqueueConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	payloadJSON, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("ペイロードのシリアライズに失敗: %w", err)
	}

	id := uuid.New().String()
	runAt := time.Now().Add(cfg.delay).UnixMilli()

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tasks (id, queue, name, kind, payload, status, run_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, msg.Queue, msg.Name, string(msg.Kind), string(payloadJSON), string(StatusPending), runAt)
	if err != nil {
		return "", fmt.Errorf("タスクの永続化に失敗: %w", err)
	}
	return id, nil
}

// Get はタスクIDで1件を取得する。存在しない場合はsql.ErrNoRowsを返す。
func (c *Client) Get(ctx context.Context, id string) (*Task, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, queue, name, kind, payload, status, attempts, COALESCE(last_error, ''), run_at_ms
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// ListByQueue は指定キューのタスクを作成順に取得する。運用・テスト用。
func (c *Client) ListByQueue(ctx context.Context, queue string) ([]Task, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, queue, name, kind, payload, status, attempts, COALESCE(last_error, ''), run_at_ms
		FROM tasks WHERE queue = ? ORDER BY created_at, id
	`, queue)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// claim は実行可能なタスクを1件請け負う。
// リース期限切れのrunningタスクも再請け負いの対象とする（at-least-once）。
// 実行可能なタスクがない場合はnilを返す。
func (c *Client) claim(ctx context.Context, queues []string, lease time.Duration) (*Task, error) {
	if len(queues) == 0 {
		return nil, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()

	query := `
		SELECT id, queue, name, kind, payload, status, attempts, COALESCE(last_error, ''), run_at_ms
		FROM tasks
		WHERE queue IN (` + placeholders(len(queues)) + `)
		  AND (
		        (status = 'pending' AND run_at_ms <= ?)
		     OR (status = 'running' AND lease_expires_ms <= ?)
		  )
		ORDER BY run_at_ms
		LIMIT 1
	`
	args := make([]any, 0, len(queues)+2)
	for _, q := range queues {
		args = append(args, q)
	}
	args = append(args, now, now)

	t, err := scanTask(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	leaseExpires := time.Now().Add(lease).UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'running', attempts = attempts + 1,
		    lease_expires_ms = ?, updated_at = datetime('now')
		WHERE id = ?
	`, leaseExpires, t.ID); err != nil {
		return nil, fmt.Errorf("タスクの請け負いに失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗: %w", err)
	}

	t.Status = StatusRunning
	t.Attempts++
	return t, nil
}

// markSucceeded はタスクを成功として記録する。
func (c *Client) markSucceeded(ctx context.Context, id string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'succeeded', last_error = NULL, updated_at = datetime('now')
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("タスクの成功記録に失敗: %w", err)
	}
	return nil
}

// markFailed はタスクを終了状態のfailedとして記録する。
func (c *Client) markFailed(ctx context.Context, id string, taskErr error) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks SET status = 'failed', last_error = ?, updated_at = datetime('now')
		WHERE id = ?
	`, taskErr.Error(), id)
	if err != nil {
		return fmt.Errorf("タスクの失敗記録に失敗: %w", err)
	}
	return nil
}

// scheduleRetry はタスクを指定遅延後のpendingに戻す。
func (c *Client) scheduleRetry(ctx context.Context, id string, delay time.Duration, taskErr error) error {
	runAt := time.Now().Add(delay).UnixMilli()
	_, err := c.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'pending', last_error = ?, run_at_ms = ?,
		    lease_expires_ms = 0, updated_at = datetime('now')
		WHERE id = ?
	`, taskErr.Error(), runAt, id)
	if err != nil {
		return fmt.Errorf("タスクのリトライ予約に失敗: %w", err)
	}
	return nil
}

// enqueueDeadLetter はリトライが枯渇したタスクをデッドレターキューへ転送する。
// 元タスクのペイロードに加えて、タスク名・元の種別・終了時エラーを付与する。
func (c *Client) enqueueDeadLetter(ctx context.Context, t *Task, dlqQueue string, taskErr error) error {
	payload := make(map[string]string, len(t.Payload)+3)
	for k, v := range t.Payload {
		payload[k] = v
	}
	payload["task_name"] = t.Name
	payload[task.FieldOriginKind] = string(t.Kind)
	payload["error"] = taskErr.Error()
	delete(payload, task.FieldKind)

	msg, err := task.New(task.NameDeadLetter, task.KindDeadLetter, dlqQueue, payload)
	if err != nil {
		return fmt.Errorf("デッドレターメッセージの生成に失敗: %w", err)
	}
	if _, err := c.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("デッドレターキューへの転送に失敗: %w", err)
	}
	return nil
}

// scanner はsql.Rowとsql.Rowsの共通インターフェース。
type scanner interface {
	Scan(dest ...any) error
}

// scanTask は1行をTaskへ変換する。
func scanTask(s scanner) (*Task, error) {
	var t Task
	var kind, payloadJSON, status string
	var runAtMs int64
	if err := s.Scan(&t.ID, &t.Queue, &t.Name, &kind, &payloadJSON, &status, &t.Attempts, &t.LastError, &runAtMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("タスク行の読み取りに失敗: %w", err)
	}

	t.Kind = task.Kind(kind)
	t.Status = Status(status)
	t.RunAt = time.UnixMilli(runAtMs)
	if err := json.Unmarshal([]byte(payloadJSON), &t.Payload); err != nil {
		return nil, fmt.Errorf("ペイロードのデシリアライズに失敗: %w", err)
	}
	return &t, nil
}

// placeholders はIN句用のプレースホルダ文字列を生成する。
func placeholders(n int) string {
	s := "?"
	for i := 1; i < n; i++ {
		s += ", ?"
	}
	return s
}
