// Package httpclient はサービス間のHTTP通信を行うクライアントを提供する。
//
// Sagaステージからバックエンドの内部APIへの呼び出しや、
// プッシュ通知エンドポイントへの配信など、サービス間の通信パターンを
// 統一する。2xx以外のレスポンスはStatusErrorとして返し、呼び出し側が
// 恒久的な失敗（4xx）と一時的な失敗（5xx）を区別できるようにする。
package httpclient
