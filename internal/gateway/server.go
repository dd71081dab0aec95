package gateway

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nao1215/pubflow/internal/config"
	"github.com/nao1215/pubflow/pkg/middleware"
)

// Server はAPIゲートウェイのHTTPサーバー。
// アカウント登録とJWTの発行を担当し、記事・購読関連のAPIは
// 各サービスへプロキシする。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store はアカウントテーブルへのクエリ実行オブジェクト。
	store *Store
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
	// backendURL は記事サービスのURL。
	backendURL string
	// usersURL は購読者ディレクトリサービスのURL。
	usersURL string
	// client はプロキシに使用するHTTPクライアント。
	client *http.Client
}

// NewServer は新しいゲートウェイサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(cfg config.Config) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", cfg.Gateway.DBPath))
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
	router.Use(middleware.CORS([]string{cfg.Gateway.FrontendURL}))

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	s := &Server{
		router:     router,
		port:       cfg.Gateway.Port,
		store:      NewStore(db),
		db:         db,
		jwtSecret:  jwtSecret,
		backendURL: cfg.Backend.BaseURL,
		usersURL:   cfg.Users.BaseURL,
		client:     &http.Client{Timeout: 10 * time.Second},
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
	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/register", s.handleRegister())
		auth.POST("/token", s.handleToken())
	}

	// 認証必須のAPIエンドポイント
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwtSecret))
	{
		// アカウント情報
		api.GET("/me", s.handleGetCurrentAccount())

		// 記事（プロキシ）
		api.POST("/articles", s.handleProxy(s.backendURL, "/api/v1/articles"))
		api.GET("/articles/:id", s.handleProxyWithParam(s.backendURL, "/api/v1/articles/", "id"))
		api.POST("/articles/:id/request-publication",
			s.handleProxyWithParam(s.backendURL, "/api/v1/articles/", "id", "/request-publication"))

		// 購読（プロキシ）
		api.PUT("/users/me/subscription-key", s.handleProxy(s.usersURL, "/api/v1/users/me/subscription-key"))
		api.POST("/users/subscribe", s.handleProxy(s.usersURL, "/api/v1/users/subscribe"))
		api.POST("/users/unsubscribe", s.handleProxy(s.usersURL, "/api/v1/users/unsubscribe"))
		api.GET("/users/me/notifications", s.handleProxy(s.usersURL, "/api/v1/users/me/notifications"))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// registerRequest はアカウント登録リクエストのJSON構造。
type registerRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name" binding:"required"`
}

// tokenRequest はトークン発行リクエストのJSON構造。
type tokenRequest struct {
	// Email は登録済みのメールアドレス。
	Email string `json:"email" binding:"required,email"`
}

// handleRegister はアカウント登録を処理するハンドラを返す。
// 登録に成功するとJWTトークンを発行する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if _, err := s.store.GetByEmail(c.Request.Context(), req.Email); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは既に登録されています"})
			return
		} else if !errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの確認に失敗しました"})
			log.Printf("アカウント確認エラー: %v", err)
			return
		}

		account := &Account{
			ID:          uuid.New().String(),
			Email:       req.Email,
			DisplayName: req.DisplayName,
		}
		if err := s.store.Create(c.Request.Context(), account); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの作成に失敗しました"})
			log.Printf("アカウント作成エラー: %v", err)
			return
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, account.ID, account.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"token":   token,
			"user_id": account.ID,
		})
	}
}

// handleToken は登録済みアカウントへのトークン発行を処理するハンドラを返す。
func (s *Server) handleToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		account, err := s.store.GetByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "アカウントが見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "アカウントの取得に失敗しました"})
			log.Printf("アカウント取得エラー: %v", err)
			return
		}

		if err := s.store.TouchLastLogin(c.Request.Context(), account.ID); err != nil {
			log.Printf("最終ログイン日時の更新エラー: %v", err)
		}

		token, err := middleware.GenerateJWT(s.jwtSecret, account.ID, account.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":   token,
			"user_id": account.ID,
		})
	}
}

// handleGetCurrentAccount は認証済みアカウントの情報を返すハンドラを返す。
func (s *Server) handleGetCurrentAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		account, err := s.store.GetByID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "アカウントが見つかりません"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":           account.ID,
			"email":        account.Email,
			"display_name": account.DisplayName,
		})
	}
}

// handleProxy は指定されたサービスにリクエストをプロキシするハンドラを返す。
func (s *Server) handleProxy(baseURL, path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// handleProxyWithParam はURLパラメータを含むプロキシハンドラを返す。
func (s *Server) handleProxyWithParam(baseURL, pathPrefix, paramName string, pathSuffix ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxyURL := baseURL + pathPrefix + c.Param(paramName)
		for _, suffix := range pathSuffix {
			proxyURL += suffix
		}
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, c.Request.Method, proxyURL)
	}
}

// doProxy はリクエストを内部サービスにプロキシする共通処理。
// JWTトークンとユーザーIDヘッダーを転送する。
func (s *Server) doProxy(c *gin.Context, method, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), method, url, c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "プロキシリクエストの作成に失敗しました"})
		return
	}

	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	req.Header.Set("X-User-ID", middleware.GetUserID(c))

	resp, err := s.client.Do(req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "内部サービスとの通信に失敗しました"})
		log.Printf("プロキシエラー: url=%s, error=%v", url, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "レスポンスの読み取りに失敗しました"})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}
