package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
	"github.com/nao1215/pubflow/pkg/task"
)

// newTestClient はインメモリSQLiteを使うテスト用クライアントを生成する。
func newTestClient(t *testing.T) *Client {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDB接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	client, err := New(sqlDB)
	if err != nil {
		t.Fatalf("クライアント生成に失敗: %v", err)
	}
	return client
}

// newTestMessage はテスト用メッセージを生成するヘルパー関数。
func newTestMessage(t *testing.T, queue string) *task.Message {
	t.Helper()

	msg, err := task.New(task.NamePublish, task.KindPublish, queue, map[string]string{
		"article_id": uuid.New().String(),
		"author_id":  uuid.New().String(),
	})
	if err != nil {
		t.Fatalf("メッセージ生成に失敗: %v", err)
	}
	return msg
}

// TestEnqueueAndGet はエンキューしたタスクの永続化内容を検証する。
func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	msg := newTestMessage(t, "saga")

	id, err := client.Enqueue(t.Context(), msg)
	if err != nil {
		t.Fatalf("Enqueue()でエラーが発生: %v", err)
	}

	got, err := client.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}

	if got.Queue != "saga" {
		t.Errorf("Queue = %q, want %q", got.Queue, "saga")
	}
	if got.Name != task.NamePublish {
		t.Errorf("Name = %q, want %q", got.Name, task.NamePublish)
	}
	if got.Kind != task.KindPublish {
		t.Errorf("Kind = %q, want %q", got.Kind, task.KindPublish)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
	if got.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", got.Attempts)
	}
	if got.Payload["article_id"] != msg.Payload["article_id"] {
		t.Errorf("Payload[article_id] = %q, want %q", got.Payload["article_id"], msg.Payload["article_id"])
	}
	if got.Payload[task.FieldKind] != string(task.KindPublish) {
		t.Errorf("Payload[%s] = %q, want %q", task.FieldKind, got.Payload[task.FieldKind], task.KindPublish)
	}
}

// TestEnqueueWithDelay は遅延エンキューされたタスクが実行可能になるまで
// 請け負われないことを検証する。
func TestEnqueueWithDelay(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	msg := newTestMessage(t, "saga")

	id, err := client.Enqueue(t.Context(), msg, WithDelay(time.Hour))
	if err != nil {
		t.Fatalf("Enqueue()でエラーが発生: %v", err)
	}

	claimed, err := client.claim(t.Context(), []string{"saga"}, time.Minute)
	if err != nil {
		t.Fatalf("claim()でエラーが発生: %v", err)
	}
	if claimed != nil {
		t.Errorf("遅延中のタスクが請け負われた: id=%s", claimed.ID)
	}

	got, err := client.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get()でエラーが発生: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, StatusPending)
	}
}

// TestClaim はタスクの請け負いとリースを検証する。
func TestClaim(t *testing.T) {
	t.Parallel()

	t.Run("請け負いで状態がrunningになり試行回数が増えること", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		id, err := client.Enqueue(t.Context(), newTestMessage(t, "saga"))
		if err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		claimed, err := client.claim(t.Context(), []string{"saga"}, time.Minute)
		if err != nil {
			t.Fatalf("claim()でエラーが発生: %v", err)
		}
		if claimed == nil {
			t.Fatal("タスクが請け負われなかった")
		}
		if claimed.ID != id {
			t.Errorf("ID = %q, want %q", claimed.ID, id)
		}
		if claimed.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", claimed.Attempts)
		}

		// リース中は同じタスクを二重に請け負えないこと
		second, err := client.claim(t.Context(), []string{"saga"}, time.Minute)
		if err != nil {
			t.Fatalf("claim()でエラーが発生: %v", err)
		}
		if second != nil {
			t.Errorf("リース中のタスクが二重に請け負われた: id=%s", second.ID)
		}
	})

	t.Run("リース期限切れのタスクは再請け負いされること", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		if _, err := client.Enqueue(t.Context(), newTestMessage(t, "saga")); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		first, err := client.claim(t.Context(), []string{"saga"}, time.Millisecond)
		if err != nil {
			t.Fatalf("claim()でエラーが発生: %v", err)
		}
		if first == nil {
			t.Fatal("タスクが請け負われなかった")
		}

		time.Sleep(5 * time.Millisecond)

		second, err := client.claim(t.Context(), []string{"saga"}, time.Minute)
		if err != nil {
			t.Fatalf("claim()でエラーが発生: %v", err)
		}
		if second == nil {
			t.Fatal("リース期限切れタスクが再請け負いされなかった")
		}
		if second.ID != first.ID {
			t.Errorf("ID = %q, want %q", second.ID, first.ID)
		}
		if second.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", second.Attempts)
		}
	})

	t.Run("購読外のキューのタスクは請け負われないこと", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		if _, err := client.Enqueue(t.Context(), newTestMessage(t, "other")); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}

		claimed, err := client.claim(t.Context(), []string{"saga"}, time.Minute)
		if err != nil {
			t.Fatalf("claim()でエラーが発生: %v", err)
		}
		if claimed != nil {
			t.Errorf("他キューのタスクが請け負われた: id=%s", claimed.ID)
		}
	})
}

// TestListByQueue はキュー単位のタスク一覧取得を検証する。
func TestListByQueue(t *testing.T) {
	t.Parallel()

	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := client.Enqueue(ctx, newTestMessage(t, "saga")); err != nil {
			t.Fatalf("Enqueue()でエラーが発生: %v", err)
		}
	}
	if _, err := client.Enqueue(ctx, newTestMessage(t, "dlq")); err != nil {
		t.Fatalf("Enqueue()でエラーが発生: %v", err)
	}

	tasks, err := client.ListByQueue(ctx, "saga")
	if err != nil {
		t.Fatalf("ListByQueue()でエラーが発生: %v", err)
	}
	if len(tasks) != 3 {
		t.Errorf("タスク数: got %d, want 3", len(tasks))
	}
}
