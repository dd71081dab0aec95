// Package task はタスクキューで配送されるメッセージの型定義を提供する。
//
// メッセージはタスク名・ステージ種別・文字列のみのフラットなペイロードで
// 構成される。デッドレターキューへ再シリアライズしても情報が失われない
// 形式を維持する。各ステージは受信直後に型付きペイロードへデコードし、
// 識別子の検証に失敗した場合は即座にエラーとする。
package task
