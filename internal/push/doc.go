// Package push はプッシュ通知ゲートウェイの代役サービスを提供する。
//
// 実際のプッシュ基盤への接続は持たず、配送キーの内容に応じて受理・拒否・
// 一時的障害のいずれかを返す。ローカル環境で通知ワーカーの配送経路を
// 端から端まで動かすために使う。
package push
