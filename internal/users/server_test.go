package users

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用の購読者ディレクトリサーバーをインメモリSQLiteで構築する。
func setupTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	router := gin.New()
	s := &Server{
		router: router,
		port:   "0",
		store:  NewStore(sqlDB),
		db:     sqlDB,
	}

	// JWTミドルウェアの代わりにテスト用のユーザーID設定ミドルウェアを使用する
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	{
		users := api.Group("/users")
		{
			users.PUT("/me/subscription-key", s.handleSaveSubscriptionKey())
			users.POST("/subscribe", s.handleSubscribe())
			users.POST("/unsubscribe", s.handleUnsubscribe())
			users.GET("/me/notifications", s.handleListNotifications())
		}
	}

	return s, router
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// TestHandleSaveSubscriptionKey は配送キー登録APIを検証する。
func TestHandleSaveSubscriptionKey(t *testing.T) {
	t.Run("配送キーを登録して置き換えられること", func(t *testing.T) {
		s, router := setupTestServer(t)
		userID := uuid.New().String()
		author := uuid.New().String()

		w := doRequest(router, http.MethodPut, "/api/v1/users/me/subscription-key", userID,
			map[string]string{"subscription_key": "key-1"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		w = doRequest(router, http.MethodPut, "/api/v1/users/me/subscription-key", userID,
			map[string]string{"subscription_key": "key-2"})
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		if err := s.store.Subscribe(t.Context(), userID, author); err != nil {
			t.Fatalf("購読の登録に失敗: %v", err)
		}
		subscribers, err := s.store.SubscribersOf(t.Context(), author)
		if err != nil {
			t.Fatalf("購読者一覧の取得に失敗: %v", err)
		}
		if subscribers[0].SubscriptionKey.String != "key-2" {
			t.Errorf("配送キー: got %s, want key-2", subscribers[0].SubscriptionKey.String)
		}
	})

	t.Run("キーなしはBadRequest", func(t *testing.T) {
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPut, "/api/v1/users/me/subscription-key", uuid.New().String(),
			map[string]string{})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("認証なしはUnauthorized", func(t *testing.T) {
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPut, "/api/v1/users/me/subscription-key", "",
			map[string]string{"subscription_key": "key"})

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHandleSubscribe は購読・購読解除APIを検証する。
func TestHandleSubscribe(t *testing.T) {
	t.Run("購読と購読解除ができること", func(t *testing.T) {
		s, router := setupTestServer(t)
		userID := uuid.New().String()
		author := uuid.New().String()

		w := doRequest(router, http.MethodPost, "/api/v1/users/subscribe", userID,
			map[string]string{"author_id": author})
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}

		subscribers, err := s.store.SubscribersOf(t.Context(), author)
		if err != nil {
			t.Fatalf("購読者一覧の取得に失敗: %v", err)
		}
		if len(subscribers) != 1 {
			t.Fatalf("購読者数: got %d, want 1", len(subscribers))
		}

		w = doRequest(router, http.MethodPost, "/api/v1/users/unsubscribe", userID,
			map[string]string{"author_id": author})
		if w.Code != http.StatusNoContent {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusNoContent)
		}

		subscribers, err = s.store.SubscribersOf(t.Context(), author)
		if err != nil {
			t.Fatalf("購読者一覧の取得に失敗: %v", err)
		}
		if len(subscribers) != 0 {
			t.Errorf("購読者数: got %d, want 0", len(subscribers))
		}
	})

	t.Run("不正な著者IDはBadRequest", func(t *testing.T) {
		_, router := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/v1/users/subscribe", uuid.New().String(),
			map[string]string{"author_id": "not-a-uuid"})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("自分自身の購読はBadRequest", func(t *testing.T) {
		_, router := setupTestServer(t)
		userID := uuid.New().String()

		w := doRequest(router, http.MethodPost, "/api/v1/users/subscribe", userID,
			map[string]string{"author_id": userID})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})
}

// TestHandleListNotifications は通知台帳閲覧APIを検証する。
func TestHandleListNotifications(t *testing.T) {
	s, router := setupTestServer(t)
	userID := uuid.New().String()
	author := uuid.New().String()

	entry, err := s.store.GetOrCreateLog(t.Context(), userID, author, uuid.New().String())
	if err != nil {
		t.Fatalf("台帳エントリの作成に失敗: %v", err)
	}
	if err := s.store.MarkSent(t.Context(), entry.ID); err != nil {
		t.Fatalf("配送済みの記録に失敗: %v", err)
	}

	w := doRequest(router, http.MethodGet, "/api/v1/users/me/notifications", userID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	var logs []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &logs); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("台帳件数: got %d, want 1", len(logs))
	}
	if logs[0]["status"] != LogSent {
		t.Errorf("status: got %v, want %s", logs[0]["status"], LogSent)
	}
	if logs[0]["author_id"] != author {
		t.Errorf("author_id: got %v, want %s", logs[0]["author_id"], author)
	}

	// 他人の台帳は見えない
	w = doRequest(router, http.MethodGet, "/api/v1/users/me/notifications", uuid.New().String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	logs = nil
	if err := json.Unmarshal(w.Body.Bytes(), &logs); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("台帳件数: got %d, want 0", len(logs))
	}
}
