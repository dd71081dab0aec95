// Package gateway はAPIゲートウェイサービスの内部実装を提供する。
//
// アカウント登録とJWT発行、リクエストルーティングを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として
// 機能する。認証済みリクエストを記事サービスと購読者ディレクトリサービスに
// 転送する。
package gateway
