package taskqueue

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/nao1215/pubflow/pkg/task"
)

// Handler はタスクを処理する関数。
// エラーを返すと失敗として扱われ、リトライポリシーに従って再実行される。
// ErrPermanentでラップされたエラーはリトライせず即座にfailedにする。
// 同一タスクが二重配送されうるため、ハンドラは冪等であること。
type Handler func(ctx context.Context, msg *task.Message) error

// Registration はタスク名とハンドラの対応付け。
type Registration struct {
	// Name は処理対象のタスク名。
	Name string
	// Queue はタスクを購読するキュー名。
	Queue string
	// Handler はタスクを処理する関数。
	Handler Handler
	// Policy はリトライポリシー。
	Policy RetryPolicy
	// DeadLetterQueue はリトライ枯渇時の転送先キュー名。
	// 空の場合は転送せずfailedにするだけ。
	DeadLetterQueue string
}

// Worker は名前付きキューをポーリングしてタスクを処理するワーカー。
type Worker struct {
	// client はタスクキュークライアント。
	client *Client
	// regs はタスク名からRegistrationへの対応。
	regs map[string]Registration
	// queues は購読対象のキュー名（重複なし）。
	queues []string
	// interval はポーリング間隔。
	interval time.Duration
	// lease は請け負ったタスクのリース時間。
	lease time.Duration
	// concurrency は並行して動かすポーリングループの数。
	concurrency int
	// wg は全ループの終了待ち合わせに使用する。
	wg sync.WaitGroup
}

// WorkerOption はワーカーの挙動を調整するオプション。
type WorkerOption func(*Worker)

// WithPollInterval はポーリング間隔を設定する。
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithLease はタスクのリース時間を設定する。
func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) { w.lease = d }
}

// WithConcurrency は並行ポーリングループの数を設定する。
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// NewWorker は新しいワーカーを生成する。
func NewWorker(client *Client, opts ...WorkerOption) *Worker {
	w := &Worker{
		client:      client,
		regs:        make(map[string]Registration),
		interval:    500 * time.Millisecond,
		lease:       30 * time.Second,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register はタスク名に対するハンドラを登録する。
// Startの前に呼び出すこと。
func (w *Worker) Register(reg Registration) {
	w.regs[reg.Name] = reg
	for _, q := range w.queues {
		if q == reg.Queue {
			return
		}
	}
	w.queues = append(w.queues, reg.Queue)
}

// Start はバックグラウンドでポーリングループを開始する。
// コンテキストのキャンセルで全ループが停止する。
func (w *Worker) Start(ctx context.Context) {
	log.Printf("[TaskQueue] ワーカーを開始します: queues=%v, interval=%s, concurrency=%d",
		w.queues, w.interval, w.concurrency)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
}

// Wait は全ポーリングループの終了を待つ。
func (w *Worker) Wait() {
	w.wg.Wait()
}

// loop は1本のポーリングループ。実行可能なタスクを請け負って処理する。
func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 実行可能なタスクが続く限り連続で処理する
			for {
				processed, err := w.RunOnce(ctx)
				if err != nil {
					log.Printf("[TaskQueue] ポーリングエラー: %v", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// RunOnce は実行可能なタスクを最大1件請け負って処理する。
// タスクを処理した場合はtrueを返す。テストからの同期実行にも使用する。
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	t, err := w.client.claim(ctx, w.queues, w.lease)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}

	w.process(ctx, t)
	return true, nil
}

// process は請け負った1件のタスクをハンドラへ引き渡し、結果を記録する。
func (w *Worker) process(ctx context.Context, t *Task) {
	reg, ok := w.regs[t.Name]
	if !ok {
		// 購読キューに未知のタスク名が混入した場合は恒久失敗として記録する
		log.Printf("[TaskQueue] 未登録のタスク名: name=%s, id=%s", t.Name, t.ID)
		if err := w.client.markFailed(ctx, t.ID, errors.New("未登録のタスク名")); err != nil {
			log.Printf("[TaskQueue] 失敗記録エラー: %v", err)
		}
		return
	}

	msg := &task.Message{
		Name:    t.Name,
		Kind:    t.Kind,
		Queue:   t.Queue,
		Payload: t.Payload,
	}

	handlerErr := reg.Handler(ctx, msg)
	if handlerErr == nil {
		if err := w.client.markSucceeded(ctx, t.ID); err != nil {
			log.Printf("[TaskQueue] 成功記録エラー: %v", err)
		}
		return
	}

	log.Printf("[TaskQueue] タスク失敗: name=%s, id=%s, attempt=%d/%d, error=%v",
		t.Name, t.ID, t.Attempts, reg.Policy.MaxAttempts, handlerErr)

	// 恒久的な失敗はリトライしてもデッドレター転送しても意味がない
	if errors.Is(handlerErr, ErrPermanent) {
		if err := w.client.markFailed(ctx, t.ID, handlerErr); err != nil {
			log.Printf("[TaskQueue] 失敗記録エラー: %v", err)
		}
		return
	}

	if t.Attempts < reg.Policy.MaxAttempts {
		delay := reg.Policy.NextDelay(t.Attempts)
		if err := w.client.scheduleRetry(ctx, t.ID, delay, handlerErr); err != nil {
			log.Printf("[TaskQueue] リトライ予約エラー: %v", err)
		}
		return
	}

	// リトライ枯渇。デッドレターキューへ転送してからfailedにする
	if reg.DeadLetterQueue != "" {
		if err := w.client.enqueueDeadLetter(ctx, t, reg.DeadLetterQueue, handlerErr); err != nil {
			log.Printf("[TaskQueue] デッドレター転送エラー: name=%s, id=%s, error=%v", t.Name, t.ID, err)
		} else {
			log.Printf("[TaskQueue] デッドレターキューへ転送: name=%s, id=%s", t.Name, t.ID)
		}
	}
	if err := w.client.markFailed(ctx, t.ID, handlerErr); err != nil {
		log.Printf("[TaskQueue] 失敗記録エラー: %v", err)
	}
}
