// Package users は購読者ディレクトリサービスを提供する。
//
// ユーザーごとのプッシュ通知配送キーの登録、著者の購読・購読解除、
// 通知台帳（どの購読者にどの記事の通知を送ったか）の管理を担当する。
// 通知台帳は購読者と記事の組み合わせごとに1件だけ存在し、
// at-least-once配送でも通知が重複しないための冪等性の要となる。
package users
