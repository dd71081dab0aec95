package users

import (
	"database/sql"
	"embed"

	"github.com/nao1215/pubflow/pkg/migration"
)

//go:embed migrations
var migrationsFS embed.FS

// initSchema はマイグレーションを実行して購読者ディレクトリのスキーマを適用する。
func initSchema(db *sql.DB) error {
	return migration.Run(db, migrationsFS, "migrations")
}
