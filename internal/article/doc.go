// Package article は記事サービスを提供する。
//
// 公開APIでは記事の作成・取得と公開リクエストを受け付け、
// 公開リクエスト時にモデレーションタスクをタスクキューへ投入して
// 公開ワークフロー（モデレーション→プレビュー生成→公開→通知）を開始する。
// 内部APIはワーカーからの却下・プレビュー設定・公開の呼び出しを
// 静的トークン認証で受け付ける。
package article
