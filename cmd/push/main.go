// プッシュ通知ゲートウェイ（代役）のエントリポイント。
// ローカル環境で通知ワーカーの配送先として動かすための軽量なサービス。
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/internal/push"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .envファイルが見つかりません。環境変数をそのまま使用します")
	}
	cfg := config.Load()

	server := push.NewServer(cfg)

	log.Printf("プッシュゲートウェイを起動します: :%s", cfg.Push.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("プッシュゲートウェイの起動に失敗: %v", err)
	}
}
