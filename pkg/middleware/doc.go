// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、サービス間内部APIの静的トークン認証、
// パニックリカバリ、CORS設定など、全サービスで共通して使用する
// ミドルウェアを含む。
package middleware
