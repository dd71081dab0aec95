package users

import (
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/pkg/middleware"
	"github.com/nao1215/pubflow/pkg/task"
)

// Server は購読者ディレクトリサービスのHTTPサーバー。
// 配送キーの登録、購読の管理、通知台帳の閲覧を提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は購読者ディレクトリと通知台帳へのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT検証に使用する秘密鍵。
	jwtSecret string
}

// NewServer は新しい購読者ディレクトリサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Users.DBPath))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	return newServer(sqlDB, cfg), nil
}

// newServer は依存を注入してサーバーを組み立てる。テストからも使用する。
func newServer(db *sql.DB, cfg config.Config) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	s := &Server{
		router:    router,
		port:      cfg.Users.Port,
		store:     NewStore(db),
		db:        db,
		jwtSecret: jwtSecret,
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
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		users := api.Group("/users")
		{
			// 自分の配送キーを登録または置き換える
			users.PUT("/me/subscription-key", s.handleSaveSubscriptionKey())
			// 著者を購読する
			users.POST("/subscribe", s.handleSubscribe())
			// 著者の購読を解除する
			users.POST("/unsubscribe", s.handleUnsubscribe())
			// 自分宛の通知台帳を閲覧する
			users.GET("/me/notifications", s.handleListNotifications())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "users"})
	})
}

// subscriptionKeyRequest は配送キー登録リクエストのJSON構造。
type subscriptionKeyRequest struct {
	// SubscriptionKey はプッシュ通知の配送キー。
	SubscriptionKey string `json:"subscription_key" binding:"required"`
}

// subscribeRequest は購読・購読解除リクエストのJSON構造。
type subscribeRequest struct {
	// AuthorID は購読対象の著者のユーザーID。
	AuthorID string `json:"author_id" binding:"required"`
}

// notificationLogResponse は通知台帳エントリのJSONレスポンス構造。
type notificationLogResponse struct {
	// ID は台帳エントリの一意識別子。
	ID string `json:"id"`
	// AuthorID は記事の著者のユーザーID。
	AuthorID string `json:"author_id"`
	// ArticleID は対象記事の識別子。
	ArticleID string `json:"article_id"`
	// Status は配送状態。
	Status string `json:"status"`
	// Attempts は配送を試みた回数。
	Attempts int `json:"attempts"`
	// LastError は直近の失敗時のエラー文字列（失敗がない場合は空文字列）。
	LastError string `json:"last_error"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// handleSaveSubscriptionKey は配送キーの登録を処理するハンドラを返す。
func (s *Server) handleSaveSubscriptionKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req subscriptionKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.UpsertSubscriptionKey(c.Request.Context(), userID, req.SubscriptionKey); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "配送キーの登録に失敗しました"})
			log.Printf("配送キー登録エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "配送キーを登録しました"})
	}
}

// handleSubscribe は著者の購読を処理するハンドラを返す。
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := task.ValidateID(req.AuthorID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "著者IDが不正です"})
			return
		}

		if req.AuthorID == userID {
			c.JSON(http.StatusBadRequest, gin.H{"error": "自分自身は購読できません"})
			return
		}

		if err := s.store.Subscribe(c.Request.Context(), userID, req.AuthorID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の登録に失敗しました"})
			log.Printf("購読登録エラー: %v", err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// handleUnsubscribe は購読解除を処理するハンドラを返す。
func (s *Server) handleUnsubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req subscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.Unsubscribe(c.Request.Context(), userID, req.AuthorID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "購読の解除に失敗しました"})
			log.Printf("購読解除エラー: %v", err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// handleListNotifications は自分宛の通知台帳の閲覧を処理するハンドラを返す。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		logs, err := s.store.ListLogsBySubscriber(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知台帳の取得に失敗しました"})
			log.Printf("通知台帳取得エラー: %v", err)
			return
		}

		responses := make([]notificationLogResponse, 0, len(logs))
		for _, l := range logs {
			responses = append(responses, notificationLogResponse{
				ID:        l.ID,
				AuthorID:  l.AuthorID,
				ArticleID: l.ArticleID,
				Status:    l.Status,
				Attempts:  l.Attempts,
				LastError: l.LastError.String,
				CreatedAt: l.CreatedAt.Format(time.RFC3339),
				UpdatedAt: l.UpdatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, responses)
	}
}
