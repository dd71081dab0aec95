package taskqueue

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。実行予定時刻とリース期限はUNIXミリ秒で保持し、
// 請け負い判定を数値比較で行う。
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
    -- タスクの一意識別子（UUID）
    id TEXT PRIMARY KEY,
    -- 配送先のキュー名
    queue TEXT NOT NULL,
    -- タスク名。ハンドラのディスパッチに使用する
    name TEXT NOT NULL,
    -- Sagaステージの種別
    kind TEXT NOT NULL,
    -- タスク固有のデータ（文字列のみのJSONオブジェクト）
    payload TEXT NOT NULL DEFAULT '{}',
    -- タスクの状態（pending / running / succeeded / failed）
    status TEXT NOT NULL DEFAULT 'pending',
    -- 実行を試みた回数
    attempts INTEGER NOT NULL DEFAULT 0,
    -- 直近の失敗時のエラー文字列
    last_error TEXT,
    -- 次に実行可能になる時刻（UNIXミリ秒）
    run_at_ms INTEGER NOT NULL,
    -- 実行中タスクのリース期限（UNIXミリ秒）
    lease_expires_ms INTEGER NOT NULL DEFAULT 0,
    -- タスクの作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- タスクの最終更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- キューごとの実行可能タスク検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_tasks_queue_due
    ON tasks(queue, status, run_at_ms);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
