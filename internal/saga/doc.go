// Package saga は記事公開ワークフローの各ステージを実装する。
//
// ワークフローはコレオグラフィ型で、中央のオーケストレータは存在しない。
// 各ステージ（モデレーション→プレビュー生成→公開）が処理の完了時に
// 次のステージのタスクをキューへ投入することで前進し、失敗時は
// リトライの枯渇後にデッドレターキューへ転送されて補償が行われる。
package saga
