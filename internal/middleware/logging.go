package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// StatusObserver はレスポンスステータスを受け取るインターフェース。
// metrics.Collectorが実装する。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

var logFieldsContextKey = contextKey("log_fields")

// logFields は内側のミドルウェアが判明した値をアクセスログへ渡すための入れ物。
type logFields struct {
	userID string
}

// annotateUserID はアクセスログに出力するユーザーIDを設定する。
// ロギングミドルウェアの外で呼ばれた場合は何もしない。
func annotateUserID(ctx context.Context, userID string) {
	if f, ok := ctx.Value(logFieldsContextKey).(*logFields); ok {
		f.userID = userID
	}
}

// statusRecorder はhttp.ResponseWriterをラップし、最初に書き込まれたステータスコードを保持する。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) code() int {
	if sr.status == 0 {
		return http.StatusOK
	}
	return sr.status
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはmethod、path、status、duration_ms、request_id（chiのRequestID使用時）、
// user_id（セッション解決済みの場合）を含む。
// observerがnilでない場合はステータスコードをメトリクスに記録する。
//
// ログに含めるのはパスのみで、クエリ文字列（サインインリンクのトークンを含む）は出力しない。
func NewLoggingMiddleware(logger *slog.Logger, observer StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			fields := &logFields{}
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				fields.userID = userID
			}

			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), logFieldsContextKey, fields)))

			status := rec.code()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				args = append(args, slog.String("request_id", reqID))
			}
			if fields.userID != "" {
				args = append(args, slog.String("user_id", fields.userID))
			}

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "http_request", args...)

			if observer != nil {
				observer.RecordHTTPStatus(status)
			}
		})
	}
}
