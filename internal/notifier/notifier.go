package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nao1215/pubflow/internal/article"
	"github.com/nao1215/pubflow/internal/users"
	"github.com/nao1215/pubflow/pkg/httpclient"
	"github.com/nao1215/pubflow/pkg/task"
	"github.com/nao1215/pubflow/pkg/taskqueue"
)

// titleExcerptLen は通知メッセージに含めるタイトルの最大文字数。
const titleExcerptLen = 10

// Handler は購読者への通知ファンアウトを処理する。
//
// 冪等性は通知台帳で保証する: 購読者と記事の組み合わせごとに台帳
// エントリが1件だけ存在し、sentのエントリには二度と配送しない。
// タスク全体が再実行されても、配送済みの購読者への処理はゼロになる。
type Handler struct {
	// articles は記事テーブルへの読み取りアクセス。
	articles *article.Store
	// users は購読者ディレクトリと通知台帳へのアクセス。
	users *users.Store
	// pushURL はプッシュ通知エンドポイントのURL。
	pushURL string
	// pushTimeout はプッシュ呼び出し1回あたりのタイムアウト。
	pushTimeout time.Duration
}

// New は新しい通知ハンドラを生成する。
func New(articles *article.Store, usersStore *users.Store, pushURL string, pushTimeout time.Duration) *Handler {
	return &Handler{
		articles:    articles,
		users:       usersStore,
		pushURL:     pushURL,
		pushTimeout: pushTimeout,
	}
}

// NotifyFollowers は著者の全購読者へプッシュ通知を配送する。
//
// 購読者ごとの4xx応答はその購読者に対する恒久的な失敗として台帳に記録し、
// 残りの購読者の処理を続行する。5xx応答と接続エラーはタスク全体を
// 失敗させ、リトライに委ねる（配送済みの購読者は台帳がスキップする）。
func (h *Handler) NotifyFollowers(ctx context.Context, msg *task.Message) error {
	p, err := task.DecodeNotify(msg.Payload)
	if err != nil {
		return taskqueue.Permanent(err)
	}

	a, err := h.articles.GetByID(ctx, p.ArticleID)
	if errors.Is(err, article.ErrNotFound) {
		log.Printf("[Notifier] 記事 %s が存在しないため通知をスキップ", p.ArticleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("記事の取得に失敗: %w", err)
	}

	subscribers, err := h.users.SubscribersOf(ctx, p.AuthorID)
	if err != nil {
		return fmt.Errorf("購読者一覧の取得に失敗: %w", err)
	}
	if len(subscribers) == 0 {
		log.Printf("[Notifier] 著者 %s に購読者がいないため通知をスキップ", p.AuthorID)
		return nil
	}

	message := formatMessage(p.AuthorID, a.Title)

	for _, sub := range subscribers {
		if !sub.SubscriptionKey.Valid || sub.SubscriptionKey.String == "" {
			log.Printf("[Notifier] 購読者 %s は配送キー未登録のためスキップ", sub.SubscriberID)
			continue
		}

		entry, err := h.users.GetOrCreateLog(ctx, sub.SubscriberID, p.AuthorID, p.ArticleID)
		if err != nil {
			return fmt.Errorf("台帳エントリの取得に失敗: %w", err)
		}
		if entry == nil {
			// 配送済み
			continue
		}

		if err := h.users.MarkProcessing(ctx, entry.ID); err != nil {
			return fmt.Errorf("台帳エントリの更新に失敗: %w", err)
		}
		log.Printf("[Notifier] 記事 %s の通知を購読者 %s へ送信します", p.ArticleID, sub.SubscriberID)

		pushErr := h.push(ctx, sub.SubscriptionKey.String, message)
		if pushErr == nil {
			if err := h.users.MarkSent(ctx, entry.ID); err != nil {
				return fmt.Errorf("台帳エントリの更新に失敗: %w", err)
			}
			continue
		}

		if markErr := h.users.MarkFailed(ctx, entry.ID, pushErr.Error()); markErr != nil {
			return fmt.Errorf("台帳エントリの更新に失敗: %w", markErr)
		}

		if httpclient.IsClientError(pushErr) {
			// この購読者に対する恒久的な失敗。残りの購読者は続行する
			log.Printf("[Notifier] 購読者 %s へのプッシュが拒否されました: %v", sub.SubscriberID, pushErr)
			continue
		}

		// 5xxや接続エラーはタスク全体を失敗させてリトライに委ねる
		log.Printf("[Notifier] 購読者 %s へのプッシュに失敗: %v", sub.SubscriberID, pushErr)
		return fmt.Errorf("プッシュ送信に失敗: %w", pushErr)
	}

	return nil
}

// push はプッシュ通知エンドポイントへ1件送信する。
func (h *Handler) push(ctx context.Context, subscriptionKey, message string) error {
	client := httpclient.New(h.pushURL,
		httpclient.WithBearer(subscriptionKey),
		httpclient.WithTimeout(h.pushTimeout),
	)
	return client.PostJSON(ctx, "", map[string]string{"message": message}, nil)
}

// formatMessage は通知メッセージを組み立てる。タイトルは先頭のみ抜粋する。
func formatMessage(authorID, title string) string {
	excerpt := []rune(title)
	if len(excerpt) > titleExcerptLen {
		excerpt = excerpt[:titleExcerptLen]
	}
	if len(excerpt) == 0 {
		excerpt = []rune("記事")
	}
	return fmt.Sprintf("ユーザー %s が新しい記事を公開しました: %s...", authorID, string(excerpt))
}
