package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// testRequest はテストサーバーが受け取ったリクエスト情報を保持する構造体。
type testRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はリクエストパス。
	Path string
	// Body はリクエストボディ。
	Body []byte
	// Headers はリクエストヘッダー。
	Headers http.Header
}

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	// Name はテスト用の名前フィールド。
	Name string `json:"name"`
	// Value はテスト用の値フィールド。
	Value int `json:"value"`
}

// newCaptureServer は受信したリクエストを記録するテストサーバーを生成する。
func newCaptureServer(t *testing.T, status int, respBody string) (*httptest.Server, *testRequest) {
	t.Helper()

	captured := &testRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.Headers = r.Header.Clone()
		captured.Body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(respBody))
	}))
	t.Cleanup(server.Close)

	return server, captured
}

// TestNew はNew関数でクライアントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("クライアントが正常に生成されること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client == nil {
			t.Fatal("New()がnilを返した")
		}
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, want %q", client.baseURL, "http://localhost:8080")
		}
		if client.httpClient == nil {
			t.Fatal("httpClientがnil")
		}
	})

	t.Run("既定のタイムアウトが10秒であること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want 10s", client.httpClient.Timeout)
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(5*time.Second))
		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPOSTリクエストの送信と認証ヘッダーを検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("JSONボディとTokenヘッダーが送信されること", func(t *testing.T) {
		t.Parallel()

		server, captured := newCaptureServer(t, http.StatusOK, `{"name":"ok","value":1}`)
		client := New(server.URL, WithToken("internal-key"))

		var result testPayload
		err := client.PostJSON(t.Context(), "/internal/test", testPayload{Name: "req", Value: 2}, &result)
		if err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if captured.Method != http.MethodPost {
			t.Errorf("Method = %q, want POST", captured.Method)
		}
		if captured.Path != "/internal/test" {
			t.Errorf("Path = %q, want /internal/test", captured.Path)
		}
		if got := captured.Headers.Get("Authorization"); got != "Token internal-key" {
			t.Errorf("Authorization = %q, want %q", got, "Token internal-key")
		}
		if got := captured.Headers.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if result.Name != "ok" || result.Value != 1 {
			t.Errorf("レスポンスのデコード結果が不一致: %+v", result)
		}
	})

	t.Run("WithBearerでBearerヘッダーが送信されること", func(t *testing.T) {
		t.Parallel()

		server, captured := newCaptureServer(t, http.StatusAccepted, `{}`)
		client := New(server.URL, WithBearer("delivery-key"))

		if err := client.PostJSON(t.Context(), "/api/v1/notify", map[string]string{"message": "hi"}, nil); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}
		if got := captured.Headers.Get("Authorization"); got != "Bearer delivery-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer delivery-key")
		}
	})
}

// TestPutJSON はPUTリクエストの送信を検証する。
func TestPutJSON(t *testing.T) {
	t.Parallel()

	server, captured := newCaptureServer(t, http.StatusOK, `{}`)
	client := New(server.URL)

	if err := client.PutJSON(t.Context(), "/internal/articles/a/preview", map[string]string{"preview_url": "u"}, nil); err != nil {
		t.Fatalf("PutJSON()でエラーが発生: %v", err)
	}
	if captured.Method != http.MethodPut {
		t.Errorf("Method = %q, want PUT", captured.Method)
	}
}

// TestStatusError は2xx以外のレスポンスの分類を検証する。
func TestStatusError(t *testing.T) {
	t.Parallel()

	t.Run("404はStatusErrorとして返りIsNotFoundが真になること", func(t *testing.T) {
		t.Parallel()

		server, _ := newCaptureServer(t, http.StatusNotFound, `{"error":"not found"}`)
		client := New(server.URL)

		err := client.GetJSON(t.Context(), "/missing", nil)
		if err == nil {
			t.Fatal("404でエラーが返らなかった")
		}

		var se *StatusError
		if !errors.As(err, &se) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if se.Code != http.StatusNotFound {
			t.Errorf("Code = %d, want 404", se.Code)
		}
		if !IsNotFound(err) {
			t.Error("IsNotFound() = false, want true")
		}
		if !IsClientError(err) {
			t.Error("IsClientError() = false, want true")
		}
	})

	t.Run("503はIsClientErrorが偽になること", func(t *testing.T) {
		t.Parallel()

		server, _ := newCaptureServer(t, http.StatusServiceUnavailable, `{}`)
		client := New(server.URL)

		err := client.PostJSON(t.Context(), "/flaky", nil, nil)
		if err == nil {
			t.Fatal("503でエラーが返らなかった")
		}
		if IsClientError(err) {
			t.Error("IsClientError() = true, want false")
		}
		if IsNotFound(err) {
			t.Error("IsNotFound() = true, want false")
		}
	})

	t.Run("接続エラーはStatusErrorにならないこと", func(t *testing.T) {
		t.Parallel()

		client := New("http://127.0.0.1:1", WithTimeout(100*time.Millisecond))
		err := client.GetJSON(t.Context(), "/", nil)
		if err == nil {
			t.Fatal("接続エラーが返らなかった")
		}
		var se *StatusError
		if errors.As(err, &se) {
			t.Errorf("接続エラーがStatusErrorとして返った: %v", err)
		}
	})
}
