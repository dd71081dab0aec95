package article

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/pkg/middleware"
	"github.com/nao1215/pubflow/pkg/task"
	"github.com/nao1215/pubflow/pkg/taskqueue"
)

// Server は記事サービスのHTTPサーバー。
// 公開API（記事の作成・取得・公開リクエスト）と、ワーカーからの
// 内部API（却下・プレビュー設定・公開）の両方を提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は記事テーブルへのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// queue はタスクキューへのクライアント。
	queue *taskqueue.Client
	// sagaQueue はモデレーションタスクの投入先キュー名。
	sagaQueue string
	// jwtSecret は公開APIのJWT検証に使用する秘密鍵。
	jwtSecret string
	// internalToken は内部APIの静的トークン。
	internalToken string
}

// NewServer は新しい記事サーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Backend.DBPath))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	queueDB, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Worker.QueueDBPath))
	if err != nil {
		return nil, fmt.Errorf("タスクキューのデータベース接続に失敗: %w", err)
	}

	queue, err := taskqueue.New(queueDB)
	if err != nil {
		return nil, fmt.Errorf("タスクキューの初期化に失敗: %w", err)
	}

	return newServer(sqlDB, queue, cfg), nil
}

// newServer は依存を注入してサーバーを組み立てる。テストからも使用する。
func newServer(db *sql.DB, queue *taskqueue.Client, cfg config.Config) *Server {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	s := &Server{
		router:        router,
		port:          cfg.Backend.Port,
		store:         NewStore(db),
		db:            db,
		queue:         queue,
		sagaQueue:     cfg.Queues.Saga,
		jwtSecret:     jwtSecret,
		internalToken: cfg.Auth.InternalToken,
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
		articles := api.Group("/articles")
		{
			// 記事作成（下書きとして作成される）
			articles.POST("", s.handleCreate())
			// 記事詳細取得
			articles.GET("/:id", s.handleGetByID())
			// 公開リクエスト（DRAFT→PENDING_PUBLISHへ遷移しモデレーションを開始）
			articles.POST("/:id/request-publication", s.handleRequestPublication())
		}
	}

	// ワーカーから呼び出される内部API（静的トークン認証）
	internal := s.router.Group("/internal")
	internal.Use(middleware.TokenAuth(s.internalToken))
	{
		internal.GET("/articles/:id", s.handleGetInternal())
		internal.POST("/articles/:id/reject", s.handleReject())
		internal.PUT("/articles/:id/preview", s.handleSetPreview())
		internal.POST("/articles/:id/publish", s.handlePublish())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "backend"})
	})
}

// createArticleRequest は記事作成リクエストのJSON構造。
type createArticleRequest struct {
	// Title は記事のタイトル。
	Title string `json:"title" binding:"required"`
	// Body は記事の本文。
	Body string `json:"body" binding:"required"`
}

// rejectRequest は記事却下リクエストのJSON構造。
type rejectRequest struct {
	// Reason は却下の理由。
	Reason string `json:"reason"`
}

// previewRequest はプレビューURL設定リクエストのJSON構造。
type previewRequest struct {
	// PreviewURL は生成されたプレビュー画像のURL。
	PreviewURL string `json:"preview_url" binding:"required"`
}

// articleResponse は記事のJSONレスポンス構造。
type articleResponse struct {
	// ID は記事の一意識別子。
	ID string `json:"id"`
	// AuthorID は著者のユーザーID。
	AuthorID string `json:"author_id"`
	// Title は記事のタイトル。
	Title string `json:"title"`
	// Body は記事の本文。
	Body string `json:"body"`
	// Slug はタイトルから生成した一意のスラッグ。
	Slug string `json:"slug"`
	// Status は記事のステータス。
	Status string `json:"status"`
	// PreviewURL はプレビュー画像のURL（未生成の場合は空文字列）。
	PreviewURL string `json:"preview_url"`
	// RejectedReason は却下理由（却下されていない場合は空文字列）。
	RejectedReason string `json:"rejected_reason"`
	// CreatedAt は作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時（RFC3339形式）。
	UpdatedAt string `json:"updated_at"`
}

// toArticleResponse はDB行をJSONレスポンスに変換する。
func toArticleResponse(a *Article) articleResponse {
	return articleResponse{
		ID:             a.ID,
		AuthorID:       a.AuthorID,
		Title:          a.Title,
		Body:           a.Body,
		Slug:           a.Slug,
		Status:         a.Status,
		PreviewURL:     a.PreviewURL.String,
		RejectedReason: a.RejectedReason.String,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
}

// handleCreate は記事作成を処理するハンドラを返す。
// タイトルからスラッグを生成し、下書き（DRAFT）として保存する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createArticleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		slug, err := s.uniqueSlug(c, req.Title)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "スラッグの生成に失敗しました"})
			log.Printf("スラッグ生成エラー: %v", err)
			return
		}

		a := &Article{
			ID:       uuid.New().String(),
			AuthorID: userID,
			Title:    req.Title,
			Body:     req.Body,
			Slug:     slug,
			Status:   StatusDraft,
		}
		if err := s.store.Create(c.Request.Context(), a); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の作成に失敗しました"})
			log.Printf("記事作成エラー: %v", err)
			return
		}

		created, err := s.store.GetByID(c.Request.Context(), a.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "作成した記事の取得に失敗しました"})
			log.Printf("記事取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, toArticleResponse(created))
	}
}

// uniqueSlug はタイトルからスラッグを生成し、重複する場合は連番を付与する。
func (s *Server) uniqueSlug(c *gin.Context, title string) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = "article"
	}

	slug := base
	for counter := 1; ; counter++ {
		exists, err := s.store.SlugExists(c.Request.Context(), slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, counter)
	}
}

// handleGetByID は記事詳細取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の取得に失敗しました"})
			log.Printf("記事取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toArticleResponse(a))
	}
}

// handleRequestPublication は公開リクエストを処理するハンドラを返す。
// DRAFT状態の記事をPENDING_PUBLISHへ遷移させ、モデレーションタスクを投入する。
// 著者本人のみがリクエストできる。
func (s *Server) handleRequestPublication() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		articleID := c.Param("id")
		a, err := s.store.GetByID(c.Request.Context(), articleID)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の取得に失敗しました"})
			log.Printf("記事取得エラー: %v", err)
			return
		}

		if a.AuthorID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "自分の記事のみ公開リクエストできます"})
			return
		}

		if a.Status != StatusDraft {
			c.JSON(http.StatusConflict, gin.H{
				"error": fmt.Sprintf("DRAFT状態の記事のみ公開リクエストできます（現在: %s）", a.Status),
			})
			return
		}

		if err := s.store.UpdateStatus(c.Request.Context(), articleID, StatusPendingPublish); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の更新に失敗しました"})
			log.Printf("記事更新エラー: %v", err)
			return
		}

		// モデレーションタスクを投入する。識別子は投入前に検証される。
		msg, err := task.New(task.NameModerate, task.KindModerate, s.sagaQueue, map[string]string{
			"article_id":      a.ID,
			"author_id":       a.AuthorID,
			"title":           a.Title,
			"body":            a.Body,
			"requested_by_id": userID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "モデレーションタスクの作成に失敗しました"})
			log.Printf("タスク作成エラー: %v", err)
			return
		}

		if _, err := s.queue.Enqueue(c.Request.Context(), msg); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "モデレーションタスクの投入に失敗しました"})
			log.Printf("タスク投入エラー: %v", err)
			return
		}

		updated, err := s.store.GetByID(c.Request.Context(), articleID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "更新後の記事の取得に失敗しました"})
			log.Printf("記事取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toArticleResponse(updated))
	}
}

// handleGetInternal は内部APIの記事取得を処理するハンドラを返す。
func (s *Server) handleGetInternal() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.store.GetByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の取得に失敗しました"})
			log.Printf("記事取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toArticleResponse(a))
	}
}

// handleReject は記事却下を処理するハンドラを返す。
// モデレーションで却下された際の補償アクションとしてワーカーから呼び出される。
func (s *Server) handleReject() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rejectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}
		if req.Reason == "" {
			req.Reason = "Moderation rejected"
		}

		articleID := c.Param("id")
		err := s.store.MarkRejected(c.Request.Context(), articleID, req.Reason)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の却下に失敗しました"})
			log.Printf("記事却下エラー: %v", err)
			return
		}

		log.Printf("記事 %s を却下しました。理由: %s", articleID, req.Reason)
		c.JSON(http.StatusOK, gin.H{
			"article_id": articleID,
			"status":     StatusRejected,
			"reason":     req.Reason,
		})
	}
}

// handleSetPreview はプレビューURL設定を処理するハンドラを返す。
func (s *Server) handleSetPreview() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req previewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		articleID := c.Param("id")
		err := s.store.UpdatePreviewURL(c.Request.Context(), articleID, req.PreviewURL)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プレビューURLの設定に失敗しました"})
			log.Printf("プレビュー設定エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"article_id":  articleID,
			"preview_url": req.PreviewURL,
		})
	}
}

// handlePublish は記事公開を処理するハンドラを返す。
func (s *Server) handlePublish() gin.HandlerFunc {
	return func(c *gin.Context) {
		articleID := c.Param("id")
		err := s.store.UpdateStatus(c.Request.Context(), articleID, StatusPublished)
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "記事が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "記事の公開に失敗しました"})
			log.Printf("記事公開エラー: %v", err)
			return
		}

		log.Printf("記事 %s を公開しました", articleID)
		c.JSON(http.StatusOK, gin.H{
			"article_id": articleID,
			"status":     StatusPublished,
		})
	}
}
