package push

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/pkg/middleware"
)

// Server はプッシュ通知ゲートウェイの代役サービス。
// 実際のプッシュ基盤の代わりに配送キーに応じた応答を返す。
// 配送キーに "reject" を含む場合は422、"flaky" を含む場合は503で応答し、
// 通知ワーカーの恒久的失敗と一時的失敗の両方の経路を動かせるようにする。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
}

// NewServer は新しいプッシュゲートウェイサーバーを生成する。
func NewServer(cfg config.Config) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router: router,
		port:   cfg.Push.Port,
	}
	s.setupRoutes()

	return s
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		// 通知を1件配送する
		api.POST("/notify", s.handleNotify())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "push"})
	})
}

// notifyRequest は通知配送リクエストのJSON構造。
type notifyRequest struct {
	// Message は配送する通知メッセージ。
	Message string `json:"message" binding:"required"`
}

// handleNotify は通知の配送を処理するハンドラを返す。
// Bearerトークンとして渡された配送キーで宛先を識別する。
func (s *Server) handleNotify() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		key := strings.TrimPrefix(auth, "Bearer ")
		if auth == "" || key == auth || key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "配送キーがありません"})
			return
		}

		var req notifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		switch {
		case strings.Contains(key, "reject"):
			// 無効化された配送キー。リトライしても成功しない
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "配送キーが無効です"})
		case strings.Contains(key, "flaky"):
			// 下流の一時的な障害を模す
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "配送基盤が一時的に利用できません"})
		default:
			log.Printf("[Push] 通知を受理しました: message=%s", req.Message)
			c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
		}
	}
}
