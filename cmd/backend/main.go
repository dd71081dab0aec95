// 記事サービスのエントリポイント。
// 記事の作成・閲覧と公開リクエストの受付を担当する。
// 公開リクエストを受けるとモデレーションタスクをキューに積み、
// ワーカー側のSagaに後続の処理を委ねる。
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/pubflow/internal/article"
	"github.com/nao1215/pubflow/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .envファイルが見つかりません。環境変数をそのまま使用します")
	}
	cfg := config.Load()

	server, err := article.NewServer(cfg)
	if err != nil {
		log.Fatalf("記事サーバーの初期化に失敗: %v", err)
	}

	log.Printf("記事サービスを起動します: :%s", cfg.Backend.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("記事サービスの起動に失敗: %v", err)
	}
}
