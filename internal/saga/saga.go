package saga

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/nao1215/pubflow/internal/article"
	"github.com/nao1215/pubflow/internal/article/articleapi"
	"github.com/nao1215/pubflow/pkg/task"
	"github.com/nao1215/pubflow/pkg/taskqueue"
)

// Policy はモデレーションの承認判定。trueで承認、falseで却下。
type Policy func() bool

// DefaultPolicy は承認率70%のランダム判定を返す。
func DefaultPolicy() bool {
	return rand.Intn(10) < 7
}

// Handlers は公開ワークフローの各ステージのタスクハンドラ。
// 各ステージは記事の状態を読み直してから処理する冪等な設計になっており、
// at-least-onceのタスク配送で二重実行されても結果は変わらない。
type Handlers struct {
	// store は記事テーブルへの直接アクセス。状態の読み直しと
	// 却下補償のフォールバック書き込みに使用する。
	store *article.Store
	// api は記事サービスの内部APIクライアント。
	api *articleapi.Client
	// queue は後続ステージのタスク投入に使用するクライアント。
	queue *taskqueue.Client
	// sagaQueue はsagaステージのタスク投入先キュー名。
	sagaQueue string
	// notifyQueue は通知タスクの投入先キュー名。
	notifyQueue string
	// policy はモデレーションの承認判定。
	policy Policy
}

// Option はHandlersの挙動を調整するオプション。
type Option func(*Handlers)

// WithPolicy はモデレーションの承認判定を差し替える。
func WithPolicy(p Policy) Option {
	return func(h *Handlers) { h.policy = p }
}

// New は新しいステージハンドラ群を生成する。
func New(store *article.Store, api *articleapi.Client, queue *taskqueue.Client, sagaQueue, notifyQueue string, opts ...Option) *Handlers {
	h := &Handlers{
		store:       store,
		api:         api,
		queue:       queue,
		sagaQueue:   sagaQueue,
		notifyQueue: notifyQueue,
		policy:      DefaultPolicy,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Moderate はモデレーションステージを処理する。
// 事前条件: 記事がPENDING_PUBLISH状態であること（そうでなければ何もしない）。
// 承認ならプレビュー生成タスクを投入し、却下なら内部APIで記事を却下する。
func (h *Handlers) Moderate(ctx context.Context, msg *task.Message) error {
	p, err := task.DecodeModerate(msg.Payload)
	if err != nil {
		return taskqueue.Permanent(err)
	}

	a, err := h.store.GetByID(ctx, p.ArticleID)
	if errors.Is(err, article.ErrNotFound) {
		log.Printf("[Saga] 記事 %s が存在しないためモデレーションをスキップ", p.ArticleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("記事の取得に失敗: %w", err)
	}

	if a.Status != article.StatusPendingPublish {
		log.Printf("[Saga] 記事 %s はPENDING_PUBLISHではない（現在: %s）ためモデレーションをスキップ", p.ArticleID, a.Status)
		return nil
	}

	if h.policy() {
		log.Printf("[Saga] 記事 %s のモデレーション結果: 承認", p.ArticleID)
		next, err := task.New(task.NameGeneratePreview, task.KindGeneratePreview, h.sagaQueue, map[string]string{
			"article_id": p.ArticleID,
			"author_id":  p.AuthorID,
			"title":      p.Title,
			"body":       p.Body,
		})
		if err != nil {
			return fmt.Errorf("プレビュー生成タスクの作成に失敗: %w", err)
		}
		if _, err := h.queue.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("プレビュー生成タスクの投入に失敗: %w", err)
		}
		return nil
	}

	// 補償: 記事を却下する
	log.Printf("[Saga] 記事 %s のモデレーション結果: 却下", p.ArticleID)
	if err := h.api.Reject(ctx, p.ArticleID, "Moderation rejected"); err != nil {
		log.Printf("[Saga] 記事 %s の却下APIの呼び出しに失敗: %v", p.ArticleID, err)
		// フォールバック: 直接ステータスを更新し、エラーを返してリトライさせる。
		// 再実行時はPENDING_PUBLISHでなくなっているためスキップされる。
		if dbErr := h.store.UpdateStatus(ctx, p.ArticleID, article.StatusRejected); dbErr != nil {
			log.Printf("[Saga] 記事 %s の直接却下にも失敗: %v", p.ArticleID, dbErr)
		}
		return fmt.Errorf("記事の却下に失敗: %w", err)
	}
	return nil
}

// GeneratePreview はプレビュー生成ステージを処理する。
// 冪等性: 既にプレビューURLが設定済みの場合は再生成せず、
// 記事がまだPENDING_PUBLISHなら公開タスクの投入のみ行う。
func (h *Handlers) GeneratePreview(ctx context.Context, msg *task.Message) error {
	p, err := task.DecodePreview(msg.Payload)
	if err != nil {
		return taskqueue.Permanent(err)
	}

	a, err := h.store.GetByID(ctx, p.ArticleID)
	if errors.Is(err, article.ErrNotFound) {
		log.Printf("[Saga] 記事 %s が存在しないためプレビュー生成をスキップ", p.ArticleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("記事の取得に失敗: %w", err)
	}

	if a.PreviewURL.Valid && a.PreviewURL.String != "" {
		log.Printf("[Saga] 記事 %s のプレビューは生成済みのためスキップ", p.ArticleID)
		if a.Status == article.StatusPendingPublish {
			return h.enqueuePublish(ctx, p.ArticleID, p.AuthorID)
		}
		return nil
	}

	previewURL := fmt.Sprintf("https://preview.example.com/articles/%s/preview.png", p.ArticleID)
	if err := h.api.SetPreview(ctx, p.ArticleID, previewURL); err != nil {
		return fmt.Errorf("プレビューURLの保存に失敗: %w", err)
	}
	log.Printf("[Saga] 記事 %s のプレビューを保存: %s", p.ArticleID, previewURL)

	return h.enqueuePublish(ctx, p.ArticleID, p.AuthorID)
}

// Publish は公開ステージを処理する。
// 冪等性: 既にPUBLISHEDの場合は公開処理をスキップするが、
// 通知タスクの投入は行う（通知の重複は台帳が防ぐ）。
func (h *Handlers) Publish(ctx context.Context, msg *task.Message) error {
	p, err := task.DecodePublish(msg.Payload)
	if err != nil {
		return taskqueue.Permanent(err)
	}

	a, err := h.store.GetByID(ctx, p.ArticleID)
	if errors.Is(err, article.ErrNotFound) {
		log.Printf("[Saga] 記事 %s が存在しないため公開をスキップ", p.ArticleID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("記事の取得に失敗: %w", err)
	}

	if a.Status == article.StatusPublished {
		log.Printf("[Saga] 記事 %s は公開済みのためスキップ", p.ArticleID)
		h.enqueueNotify(ctx, p.ArticleID, p.AuthorID)
		return nil
	}

	if err := h.api.Publish(ctx, p.ArticleID); err != nil {
		return fmt.Errorf("記事の公開に失敗: %w", err)
	}
	log.Printf("[Saga] 記事 %s を公開しました", p.ArticleID)

	h.enqueueNotify(ctx, p.ArticleID, p.AuthorID)
	return nil
}

// enqueuePublish は公開タスクを投入する。
func (h *Handlers) enqueuePublish(ctx context.Context, articleID, authorID string) error {
	next, err := task.New(task.NamePublish, task.KindPublish, h.sagaQueue, map[string]string{
		"article_id": articleID,
		"author_id":  authorID,
	})
	if err != nil {
		return fmt.Errorf("公開タスクの作成に失敗: %w", err)
	}
	if _, err := h.queue.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("公開タスクの投入に失敗: %w", err)
	}
	return nil
}

// enqueueNotify は通知タスクを投入する。
// 投入の失敗は公開ステージ全体を失敗させず、ログに記録するのみ。
func (h *Handlers) enqueueNotify(ctx context.Context, articleID, authorID string) {
	next, err := task.New(task.NameNotify, task.KindNotify, h.notifyQueue, map[string]string{
		"article_id": articleID,
		"author_id":  authorID,
	})
	if err != nil {
		log.Printf("[Saga] 記事 %s の通知タスクの作成に失敗: %v", articleID, err)
		return
	}
	if _, err := h.queue.Enqueue(ctx, next); err != nil {
		log.Printf("[Saga] 記事 %s の通知タスクの投入に失敗: %v", articleID, err)
	}
}
