// Package config は全サービス共通の設定を管理する。
// デフォルト値にYAMLファイル(任意)を上書きし、最後に環境変数を適用する。
// プロセスグローバルな状態は持たず、mainで読み込んだConfig値を
// 各サービスへ明示的に渡す。
package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv    = "PUBFLOW_CONFIG"
	backendPortEnv   = "BACKEND_PORT"
	backendDBEnv     = "BACKEND_DB"
	backendURLEnv    = "BACKEND_URL"
	usersPortEnv     = "USERS_PORT"
	usersDBEnv       = "USERS_DB"
	usersURLEnv      = "USERS_URL"
	gatewayPortEnv   = "GATEWAY_PORT"
	gatewayDBEnv     = "GATEWAY_DB"
	frontendURLEnv   = "FRONTEND_URL"
	pushPortEnv      = "PUSH_PORT"
	pushURLEnv       = "PUSH_URL"
	queueDBEnv       = "QUEUE_DB"
	jwtSecretEnv     = "JWT_SECRET"
	internalTokenEnv = "INTERNAL_API_TOKEN"
)

// Config はpubflow全サービスの設定を保持する。
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Users   UsersConfig   `yaml:"users"`
	Gateway GatewayConfig `yaml:"gateway"`
	Push    PushConfig    `yaml:"push"`
	Worker  WorkerConfig  `yaml:"worker"`
	Queues  QueueConfig   `yaml:"queues"`
	Auth    AuthConfig    `yaml:"auth"`
}

// BackendConfig は記事サービスの設定。
// BaseURLはワーカーが内部APIを呼び出す際の宛先となる。
type BackendConfig struct {
	Port    string `yaml:"port"`
	DBPath  string `yaml:"dbPath"`
	BaseURL string `yaml:"baseUrl"`
}

// UsersConfig は購読者ディレクトリサービスの設定。
// BaseURLはゲートウェイがプロキシする際の宛先となる。
type UsersConfig struct {
	Port    string `yaml:"port"`
	DBPath  string `yaml:"dbPath"`
	BaseURL string `yaml:"baseUrl"`
}

// GatewayConfig はAPIゲートウェイの設定。
// FrontendURLはCORSで許可するオリジン。
type GatewayConfig struct {
	Port        string `yaml:"port"`
	DBPath      string `yaml:"dbPath"`
	FrontendURL string `yaml:"frontendUrl"`
}

// PushConfig はプッシュ通知エンドポイントの設定。
// URLは通知ワーカーの送信先、Portはスタンドインサービスの待ち受けポート。
type PushConfig struct {
	Port    string `yaml:"port"`
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

// Wait はプッシュ呼び出しのタイムアウトを返す。
// 不正な値や未設定の場合は5秒にフォールバックする。
func (p PushConfig) Wait() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// WorkerConfig はタスクワーカーの設定。
type WorkerConfig struct {
	QueueDBPath  string `yaml:"queueDbPath"`
	PollInterval string `yaml:"pollInterval"`
	Lease        string `yaml:"lease"`
	Concurrency  int    `yaml:"concurrency"`
}

// PollEvery はキューのポーリング間隔を返す。デフォルトは500ミリ秒。
func (w WorkerConfig) PollEvery() time.Duration {
	d, err := time.ParseDuration(w.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}

// LeaseFor はタスククレームのリース期間を返す。デフォルトは30秒。
func (w WorkerConfig) LeaseFor() time.Duration {
	d, err := time.ParseDuration(w.Lease)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// QueueConfig は各ステージが使用するキュー名。
type QueueConfig struct {
	Saga          string `yaml:"saga"`
	Notifications string `yaml:"notifications"`
	DeadLetter    string `yaml:"deadLetter"`
}

// AuthConfig は認証関連の秘密情報。
// JWTSecretは公開APIのトークン検証、InternalTokenはサービス間内部APIの
// 静的トークン認証に使用する。
type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	InternalToken string `yaml:"internalToken"`
}

// Load はYAMLファイル(PUBFLOW_CONFIG環境変数で指定、任意)と
// 環境変数から設定を読み込む。読み込みに失敗した場合は
// デフォルト値にフォールバックする。
func Load() Config {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("[Config] %s を読み込めません: %v (デフォルト値を使用)", path, err)
		} else {
			var fileCfg Config
			if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
				log.Printf("[Config] %s を解析できません: %v (デフォルト値を使用)", path, err)
			} else {
				cfg = mergeConfig(cfg, fileCfg)
			}
		}
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(backendPortEnv); v != "" {
		c.Backend.Port = v
	}
	if v := os.Getenv(backendDBEnv); v != "" {
		c.Backend.DBPath = v
	}
	if v := os.Getenv(backendURLEnv); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(usersPortEnv); v != "" {
		c.Users.Port = v
	}
	if v := os.Getenv(usersDBEnv); v != "" {
		c.Users.DBPath = v
	}
	if v := os.Getenv(usersURLEnv); v != "" {
		c.Users.BaseURL = v
	}
	if v := os.Getenv(gatewayPortEnv); v != "" {
		c.Gateway.Port = v
	}
	if v := os.Getenv(gatewayDBEnv); v != "" {
		c.Gateway.DBPath = v
	}
	if v := os.Getenv(frontendURLEnv); v != "" {
		c.Gateway.FrontendURL = v
	}
	if v := os.Getenv(pushPortEnv); v != "" {
		c.Push.Port = v
	}
	if v := os.Getenv(pushURLEnv); v != "" {
		c.Push.URL = v
	}
	if v := os.Getenv(queueDBEnv); v != "" {
		c.Worker.QueueDBPath = v
	}
	if v := os.Getenv(jwtSecretEnv); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(internalTokenEnv); v != "" {
		c.Auth.InternalToken = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Backend.Port != "" {
		base.Backend.Port = override.Backend.Port
	}
	if override.Backend.DBPath != "" {
		base.Backend.DBPath = override.Backend.DBPath
	}
	if override.Backend.BaseURL != "" {
		base.Backend.BaseURL = override.Backend.BaseURL
	}

	if override.Users.Port != "" {
		base.Users.Port = override.Users.Port
	}
	if override.Users.DBPath != "" {
		base.Users.DBPath = override.Users.DBPath
	}
	if override.Users.BaseURL != "" {
		base.Users.BaseURL = override.Users.BaseURL
	}

	if override.Gateway.Port != "" {
		base.Gateway.Port = override.Gateway.Port
	}
	if override.Gateway.DBPath != "" {
		base.Gateway.DBPath = override.Gateway.DBPath
	}
	if override.Gateway.FrontendURL != "" {
		base.Gateway.FrontendURL = override.Gateway.FrontendURL
	}

	if override.Push.Port != "" {
		base.Push.Port = override.Push.Port
	}
	if override.Push.URL != "" {
		base.Push.URL = override.Push.URL
	}
	if override.Push.Timeout != "" {
		base.Push.Timeout = override.Push.Timeout
	}

	if override.Worker.QueueDBPath != "" {
		base.Worker.QueueDBPath = override.Worker.QueueDBPath
	}
	if override.Worker.PollInterval != "" {
		base.Worker.PollInterval = override.Worker.PollInterval
	}
	if override.Worker.Lease != "" {
		base.Worker.Lease = override.Worker.Lease
	}
	if override.Worker.Concurrency > 0 {
		base.Worker.Concurrency = override.Worker.Concurrency
	}

	if override.Queues.Saga != "" {
		base.Queues.Saga = override.Queues.Saga
	}
	if override.Queues.Notifications != "" {
		base.Queues.Notifications = override.Queues.Notifications
	}
	if override.Queues.DeadLetter != "" {
		base.Queues.DeadLetter = override.Queues.DeadLetter
	}

	if override.Auth.JWTSecret != "" {
		base.Auth.JWTSecret = override.Auth.JWTSecret
	}
	if override.Auth.InternalToken != "" {
		base.Auth.InternalToken = override.Auth.InternalToken
	}

	return base
}

func defaultConfig() Config {
	return Config{
		Backend: BackendConfig{
			Port:    "8080",
			DBPath:  "backend.db",
			BaseURL: "http://localhost:8080",
		},
		Users: UsersConfig{
			Port:    "8081",
			DBPath:  "users.db",
			BaseURL: "http://localhost:8081",
		},
		Gateway: GatewayConfig{
			Port:        "8000",
			DBPath:      "gateway.db",
			FrontendURL: "http://localhost:3000",
		},
		Push: PushConfig{
			Port:    "8082",
			URL:     "http://localhost:8082/api/v1/notify",
			Timeout: "5s",
		},
		Worker: WorkerConfig{
			QueueDBPath:  "queue.db",
			PollInterval: "500ms",
			Lease:        "30s",
			Concurrency:  4,
		},
		Queues: QueueConfig{
			Saga:          "saga",
			Notifications: "notifications",
			DeadLetter:    "dead_letter",
		},
		Auth: AuthConfig{
			JWTSecret:     "",
			InternalToken: "dev-internal-token",
		},
	}
}
