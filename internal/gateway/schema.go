package gateway

import (
	"database/sql"
	"embed"

	"github.com/nao1215/pubflow/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行してアカウントテーブルのスキーマを適用する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}
