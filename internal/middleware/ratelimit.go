package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	GeneralRate     rate.Limit    // 認証済みAPIのレート（req/sec、ユーザー単位）
	GeneralBurst    int           // 認証済みAPIのバーストサイズ
	SignInRate      rate.Limit    // サインインメール送信のレート（req/sec、IPとメールアドレス単位）
	SignInBurst     int           // サインインメール送信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig はデフォルトのレート制限設定を返す。
// 認証済みAPIは 120 req/min/user、サインインメールは signInPerHour 通/時とする。
func DefaultRateLimiterConfig(signInPerHour int) RateLimiterConfig {
	if signInPerHour < 1 {
		signInPerHour = 1
	}
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(120.0 / 60.0),
		GeneralBurst:    120,
		SignInRate:      rate.Limit(float64(signInPerHour) / 3600.0),
		SignInBurst:     signInPerHour,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiters はキーごとのレートリミッターを保持する。
type keyedLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*keyedLimiter
}

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newKeyedLimiters(limit rate.Limit, burst int) *keyedLimiters {
	return &keyedLimiters{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*keyedLimiter),
	}
}

func (k *keyedLimiters) allow(key string) bool {
	k.mu.Lock()
	kl, ok := k.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = kl
	}
	kl.lastAccess = time.Now()
	k.mu.Unlock()

	return kl.limiter.Allow()
}

func (k *keyedLimiters) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// evict は最終アクセスからttl以上経過したエントリを削除する。
func (k *keyedLimiters) evict(now time.Time, ttl time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, kl := range k.limiters {
		if now.Sub(kl.lastAccess) > ttl {
			delete(k.limiters, key)
		}
	}
}

// RateLimiter はレート制限を管理する。
// 認証済みAPIのユーザー単位の制限と、サインインメール送信のIP・メールアドレス単位の制限を提供する。
type RateLimiter struct {
	config RateLimiterConfig

	general     *keyedLimiters
	signInIP    *keyedLimiters
	signInEmail *keyedLimiters

	stopCh chan struct{}
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:      config,
		general:     newKeyedLimiters(config.GeneralRate, config.GeneralBurst),
		signInIP:    newKeyedLimiters(config.SignInRate, config.SignInBurst),
		signInEmail: newKeyedLimiters(config.SignInRate, config.SignInBurst),
		stopCh:      make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
}

// GeneralMiddleware は認証済みAPIのレート制限ミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !rl.general.allow(userID) {
				writeRateLimitResponse(w, rl.config.GeneralRate)
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "general"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SignInMiddleware はサインインメール送信のクライアントIP単位のレート制限ミドルウェアを返す。
// chiのRealIPミドルウェアの後に配置するとプロキシ経由のIPで判定する。
func (rl *RateLimiter) SignInMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.signInIP.allow(ip) {
				writeRateLimitResponse(w, rl.config.SignInRate)
				slog.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("limit_type", "signin_ip"),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AllowSignInEmail は正規化済みメールアドレス単位のサインインメール送信を許可するかを返す。
func (rl *RateLimiter) AllowSignInEmail(email string) bool {
	return rl.signInEmail.allow(email)
}

// SignInRetryAfter はサインイン制限時のRetry-After秒数を返す。
func (rl *RateLimiter) SignInRetryAfter() int {
	return retryAfterSeconds(rl.config.SignInRate)
}

// GeneralLimiterCount は現在管理されているユーザー単位リミッターのエントリ数を返す。
func (rl *RateLimiter) GeneralLimiterCount() int {
	return rl.general.len()
}

// SignInLimiterCount は現在管理されているサインイン用リミッター（IPとメールアドレス）のエントリ数を返す。
func (rl *RateLimiter) SignInLimiterCount() int {
	return rl.signInIP.len() + rl.signInEmail.len()
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
// サインイン用はトークン補充に1時間単位かかるため、補充周期より長く保持する。
func (rl *RateLimiter) cleanup(now time.Time) {
	rl.general.evict(now, rl.config.CleanupInterval*2)

	signInTTL := time.Hour
	if rl.config.SignInRate > 0 {
		full := time.Duration(float64(rl.config.SignInBurst) / float64(rl.config.SignInRate) * float64(time.Second))
		if full > signInTTL {
			signInTTL = full
		}
	}
	rl.signInIP.evict(now, signInTTL)
	rl.signInEmail.evict(now, signInTTL)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds は1トークンが補充されるまでの秒数を返す。
func retryAfterSeconds(r rate.Limit) int {
	if r <= 0 {
		return 1
	}
	// 浮動小数点の誤差で1秒繰り上がらないよう僅かに切り下げる
	sec := int(math.Ceil(1.0/float64(r) - 1e-9))
	if sec < 1 {
		sec = 1
	}
	return sec
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	WriteRateLimitExceeded(w, retryAfterSeconds(r))
}

// WriteRateLimitExceeded はRetry-After付きの429レスポンスを統一エラーフォーマットで書き込む。
func WriteRateLimitExceeded(w http.ResponseWriter, retryAfterSec int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     "RATE_LIMIT_EXCEEDED",
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
