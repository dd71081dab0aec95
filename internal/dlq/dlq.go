package dlq

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nao1215/pubflow/internal/article"
	"github.com/nao1215/pubflow/pkg/task"
	"github.com/nao1215/pubflow/pkg/taskqueue"
)

// Handler はリトライが枯渇したタスクに対する補償処理。
// 失敗したステージに応じて記事の状態を巻き戻す。
type Handler struct {
	articles *article.Store
}

// New は新しいHandlerを生成する。
func New(articles *article.Store) *Handler {
	return &Handler{articles: articles}
}

// HandleFailedTask はデッドレターキューのタスクを処理する。
// 元タスクのステージ種別ごとに補償を行う:
//   - モデレーション失敗: 記事をDRAFTへ戻し、著者が再申請できるようにする
//   - プレビュー生成失敗: 中途半端なプレビューURLを消去する(ステータスは維持)
//   - 公開失敗: 記事をERRORにして運用者の介入を促す
//   - 通知失敗: 記事は公開済みのため巻き戻さず、記録のみ残す
//   - 種別不明: 安全側に倒してERRORにする
func (h *Handler) HandleFailedTask(ctx context.Context, msg *task.Message) error {
	p, err := task.DecodeDeadLetter(msg.Payload)
	if err != nil {
		return taskqueue.Permanent(err)
	}

	log.Printf("[DLQ] 失敗タスクを受理しました: task=%s article_id=%s error=%s", p.TaskName, p.ArticleID, p.Error)

	if _, err := h.articles.GetByID(ctx, p.ArticleID); err != nil {
		if errors.Is(err, article.ErrNotFound) {
			log.Printf("[DLQ] 補償対象の記事が存在しないためスキップします: article_id=%s", p.ArticleID)
			return nil
		}
		return fmt.Errorf("補償対象の記事の取得に失敗: %w", err)
	}

	switch p.Kind {
	case task.KindModerate:
		if err := h.articles.UpdateStatus(ctx, p.ArticleID, article.StatusDraft); err != nil {
			return fmt.Errorf("DRAFTへの巻き戻しに失敗: %w", err)
		}
		log.Printf("[DLQ] 記事をDRAFTへ戻しました: article_id=%s", p.ArticleID)
	case task.KindGeneratePreview:
		if err := h.articles.ClearPreviewURL(ctx, p.ArticleID); err != nil {
			return fmt.Errorf("プレビューURLの消去に失敗: %w", err)
		}
		log.Printf("[DLQ] プレビューURLを消去しました: article_id=%s", p.ArticleID)
	case task.KindPublish:
		if err := h.articles.UpdateStatus(ctx, p.ArticleID, article.StatusError); err != nil {
			return fmt.Errorf("ERRORへの遷移に失敗: %w", err)
		}
		log.Printf("[DLQ] 公開に失敗した記事をERRORにしました: article_id=%s", p.ArticleID)
	case task.KindNotify:
		// 記事は公開済みのため状態は変更しない
		log.Printf("[DLQ] 通知タスクの失敗を記録しました: article_id=%s error=%s", p.ArticleID, p.Error)
	default:
		if err := h.articles.UpdateStatus(ctx, p.ArticleID, article.StatusError); err != nil {
			return fmt.Errorf("ERRORへの遷移に失敗: %w", err)
		}
		log.Printf("[DLQ] 種別不明のタスクのため記事をERRORにしました: task=%s article_id=%s", p.TaskName, p.ArticleID)
	}
	return nil
}
