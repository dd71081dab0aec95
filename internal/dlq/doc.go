// Package dlq はデッドレターキューに到達したタスクの補償処理を提供する。
//
// リトライ方針に従った再実行がすべて失敗したタスクはデッドレターキューへ
// 転送される。本パッケージのハンドラーはそのタスクを受け取り、失敗した
// ステージに応じて記事の状態を巻き戻す。補償自体が失敗した場合も少ない
// 回数だけ再試行されるが、デッドレターキューへ再転送されることはない。
package dlq
