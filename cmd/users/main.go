// 購読者ディレクトリサービスのエントリポイント。
// 配送キーの登録、著者の購読管理、通知台帳の閲覧を担当する。
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/internal/users"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .envファイルが見つかりません。環境変数をそのまま使用します")
	}
	cfg := config.Load()

	server, err := users.NewServer(cfg)
	if err != nil {
		log.Fatalf("購読者ディレクトリサーバーの初期化に失敗: %v", err)
	}

	log.Printf("購読者ディレクトリサービスを起動します: :%s", cfg.Users.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("購読者ディレクトリサービスの起動に失敗: %v", err)
	}
}
