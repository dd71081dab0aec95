// 公開Sagaワーカーのエントリポイント。
// タスクキューを購読し、モデレーション・プレビュー生成・公開の各ステージと
// 購読者への通知、デッドレタータスクの補償を実行する。
// 記事サービス・購読者ディレクトリサービスと同じSQLiteデータベースを共有する。
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/nao1215/pubflow/internal/article"
	"github.com/nao1215/pubflow/internal/article/articleapi"
	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/internal/dlq"
	"github.com/nao1215/pubflow/internal/notifier"
	"github.com/nao1215/pubflow/internal/saga"
	"github.com/nao1215/pubflow/internal/users"
	"github.com/nao1215/pubflow/pkg/task"
	"github.com/nao1215/pubflow/pkg/taskqueue"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Config] .envファイルが見つかりません。環境変数をそのまま使用します")
	}
	cfg := config.Load()

	articleDB, err := openDB(cfg.Backend.DBPath)
	if err != nil {
		log.Fatalf("記事データベースへの接続に失敗: %v", err)
	}
	defer articleDB.Close()

	usersDB, err := openDB(cfg.Users.DBPath)
	if err != nil {
		log.Fatalf("購読者データベースへの接続に失敗: %v", err)
	}
	defer usersDB.Close()

	queueDB, err := openDB(cfg.Worker.QueueDBPath)
	if err != nil {
		log.Fatalf("キューデータベースへの接続に失敗: %v", err)
	}
	defer queueDB.Close()

	queue, err := taskqueue.New(queueDB)
	if err != nil {
		log.Fatalf("タスクキューの初期化に失敗: %v", err)
	}

	articleStore := article.NewStore(articleDB)
	usersStore := users.NewStore(usersDB)
	api := articleapi.New(cfg.Backend.BaseURL, cfg.Auth.InternalToken)

	sagaHandlers := saga.New(articleStore, api, queue, cfg.Queues.Saga, cfg.Queues.Notifications)
	notifyHandler := notifier.New(articleStore, usersStore, cfg.Push.URL, cfg.Push.Wait())
	dlqHandler := dlq.New(articleStore)

	worker := taskqueue.NewWorker(queue,
		taskqueue.WithPollInterval(cfg.Worker.PollEvery()),
		taskqueue.WithLease(cfg.Worker.LeaseFor()),
		taskqueue.WithConcurrency(cfg.Worker.Concurrency),
	)
	worker.Register(taskqueue.Registration{
		Name:            task.NameModerate,
		Queue:           cfg.Queues.Saga,
		Handler:         sagaHandlers.Moderate,
		Policy:          taskqueue.DefaultSagaPolicy(),
		DeadLetterQueue: cfg.Queues.DeadLetter,
	})
	worker.Register(taskqueue.Registration{
		Name:            task.NameGeneratePreview,
		Queue:           cfg.Queues.Saga,
		Handler:         sagaHandlers.GeneratePreview,
		Policy:          taskqueue.DefaultSagaPolicy(),
		DeadLetterQueue: cfg.Queues.DeadLetter,
	})
	worker.Register(taskqueue.Registration{
		Name:            task.NamePublish,
		Queue:           cfg.Queues.Saga,
		Handler:         sagaHandlers.Publish,
		Policy:          taskqueue.DefaultSagaPolicy(),
		DeadLetterQueue: cfg.Queues.DeadLetter,
	})
	worker.Register(taskqueue.Registration{
		Name:            task.NameNotify,
		Queue:           cfg.Queues.Notifications,
		Handler:         notifyHandler.NotifyFollowers,
		Policy:          taskqueue.DefaultNotifyPolicy(),
		DeadLetterQueue: cfg.Queues.DeadLetter,
	})
	// 補償タスクはデッドレターキューへ再転送しない
	worker.Register(taskqueue.Registration{
		Name:    task.NameDeadLetter,
		Queue:   cfg.Queues.DeadLetter,
		Handler: dlqHandler.HandleFailedTask,
		Policy:  taskqueue.DefaultDeadLetterPolicy(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Sagaワーカーを起動します: queues=[%s, %s, %s] concurrency=%d",
		cfg.Queues.Saga, cfg.Queues.Notifications, cfg.Queues.DeadLetter, cfg.Worker.Concurrency)
	worker.Start(ctx)
	worker.Wait()
	log.Printf("Sagaワーカーを停止しました")
}

// openDB はWALモードのSQLite接続を開く。
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, err
	}
	return db, nil
}
