// APIゲートウェイのエントリポイント。
// アカウント登録とJWT発行を担当し、記事・購読関連のAPIを
// 記事サービスと購読者ディレクトリサービスへ転送する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/internal/gateway"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .envファイルが見つかりません。環境変数をそのまま使用します")
	}
	cfg := config.Load()

	server, err := gateway.NewServer(cfg)
	if err != nil {
		log.Fatalf("ゲートウェイサーバーの初期化に失敗: %v", err)
	}

	log.Printf("APIゲートウェイを起動します: :%s", cfg.Gateway.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("APIゲートウェイの起動に失敗: %v", err)
	}
}
