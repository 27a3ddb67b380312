package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/metrics"
	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/middleware"
)

// healthCheckTimeout は/healthでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// HealthChecker はDBの疎通確認インターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker      HealthChecker
	SessionResolver    middleware.SessionResolver
	RateLimiter        *middleware.RateLimiter
	CORSAllowedOrigins []string
	CSRF               middleware.CSRFConfig
	// TrustProxyHeaders がtrueの場合、X-Forwarded-ForからクライアントIPを取得する
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ユーザー
	UserService UserServiceInterface

	// 観測
	Logger          *slog.Logger
	StatusObserver  middleware.StatusObserver
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → CSRF → Session → RateLimit(General)
//
// /health と /metrics はCSRF・セッション検証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.AuthConfig.CookieSecure))
	if len(deps.CORSAllowedOrigins) > 0 {
		r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	}

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	var limiter SignInLimiter
	if deps.RateLimiter != nil {
		limiter = deps.RateLimiter
	}
	authHandler := NewAuthHandler(deps.AuthService, limiter, deps.AuthConfig)
	userHandler := NewUserHandler(deps.UserService, deps.AuthConfig)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// --- 認証不要のルート ---
		r.Route("/auth", func(r chi.Router) {
			r.Method(http.MethodGet, "/csrf", middleware.NewCSRFTokenHandler(deps.CSRF))

			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.SignInMiddleware()).Post("/signin/email", authHandler.SignInEmail)
			} else {
				r.Post("/signin/email", authHandler.SignInEmail)
			}
			r.Get("/callback/email", authHandler.CallbackEmail)
			r.Get("/signin/google", authHandler.GoogleSignIn)
			r.Get("/callback/google", authHandler.GoogleCallback)

			r.Get("/session", authHandler.Session)
			r.Post("/signout", authHandler.SignOut)
		})

		// --- 認証が必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			r.Route("/api/users/me", func(r chi.Router) {
				r.Get("/", userHandler.GetMe)
				r.Patch("/", userHandler.UpdateMe)
				r.Delete("/", userHandler.Withdraw)
			})

			r.Route("/api/accounts", func(r chi.Router) {
				r.Get("/", userHandler.ListAccounts)
				r.Delete("/{provider}/{providerAccountId}", userHandler.UnlinkAccount)
			})
		})
	})

	return r
}

// healthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
// checkerがnilの場合は常に200を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
