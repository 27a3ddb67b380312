package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/auth"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/config"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/database"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/handler"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/logger"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/mailer"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/metrics"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/middleware"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/repository"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/security"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/user"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		Usage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、プール設定を適用して疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, database.Dialect, error) {
	dialect, err := database.DialectForDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, "", err
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	database.ApplyPoolConfig(db, cfg.PoolConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLiteはプロセス内DBのため起動時にスキーマを適用する
	if dialect == database.DialectSQLite {
		if err := database.ApplySQLiteMigrations(db); err != nil {
			db.Close()
			return nil, "", fmt.Errorf("failed to apply sqlite migrations: %w", err)
		}
	}

	return db, dialect, nil
}

// newRegistry はGo/プロセスメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. メトリクスと永続化アダプタの初期化
	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	store := repository.NewAuthAdapter(db, dialect, slog.Default(), collector)

	// 3. ドメインサービスの初期化
	sender := mailer.NewSMTPMailer(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, slog.Default())

	// 未設定の場合はnilインターフェースのままにしてOAuthを無効化する
	var oauthProvider auth.OAuthProvider
	if cfg.GoogleOAuthEnabled() {
		oauthProvider = auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL(),
			HTTPClient:   security.NewSafeClient(10 * time.Second),
		})
	}

	authService := auth.NewService(store, sender, oauthProvider, collector, auth.ServiceConfig{
		Secret:                  cfg.AuthSecret,
		BaseURL:                 cfg.BaseURL,
		SessionMaxAge:           cfg.SessionMaxAge,
		SessionUpdateAge:        cfg.SessionUpdateAge,
		VerificationTokenMaxAge: cfg.VerificationTokenMaxAge,
	})
	userService := user.NewService(store)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitSignInPerHour))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:      db,
		SessionResolver:    authService,
		RateLimiter:        rateLimiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		TrustProxyHeaders: cfg.TrustProxyHeaders,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		UserService: userService,

		Logger:          slog.Default(),
		StatusObserver:  collector,
		MetricsGatherer: reg,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.Bool("google_oauth", oauthProvider != nil),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのセッションとサインイントークンをCLEANUP_INTERVALごとに削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, dialect, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	collector := metrics.NewCollector(prometheus.NewRegistry())
	cleanupJob := cleanup.NewCleanupJob(db, dialect, slog.Default(), collector)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	cleanupJob.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("driver", cfg.DatabaseDriver),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseDriver, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// passwordParam はキーワード形式DSNとクエリ文字列中のパスワード指定にマッチする。
var passwordParam = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s&]*)`)

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
// URL形式はユーザー情報を "***" に置き換え、キーワード形式
// （host=... password=...）はpasswordの値を置き換える。
// SQLiteのファイルパスは認証情報を含まないためそのまま返す。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" && u.Host != "" {
		masked := u.Scheme + "://"
		if u.User != nil {
			masked += "***@"
		}
		masked += u.Host + u.EscapedPath()
		if u.RawQuery != "" {
			masked += "?" + u.RawQuery
		}
		raw = masked
	}
	return passwordParam.ReplaceAllString(raw, "${1}***")
}
