// Package notifier は記事公開時の購読者通知ファンアウトを実装する。
//
// 著者の購読者全員に対してプッシュ通知を送信し、配送結果を
// 購読者ディレクトリの通知台帳に記録する。台帳による冪等性バリアで
// at-least-once配送でも同じ購読者に同じ記事の通知が二重に届くことはない。
package notifier
