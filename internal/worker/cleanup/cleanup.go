// Package cleanup は期限切れ認証データの自動削除ジョブを提供する。
// 有効期限を過ぎたセッションと未使用のサインイントークンを
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/database"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DeletionRecorder は削除件数の記録先インターフェース。
type DeletionRecorder interface {
	RecordCleanupDeleted(kind string, count int64)
}

// target は削除対象テーブルの定義。
type target struct {
	kind  string
	query string
}

var targets = []target{
	{kind: "sessions", query: `DELETE FROM sessions WHERE expires < $1`},
	{kind: "verification_tokens", query: `DELETE FROM verification_token WHERE expires < $1`},
}

// CleanupJob は期限切れのセッションとサインイントークンの自動削除ジョブ。
// 何度実行しても結果が変わらない冪等な削除処理を行う。
type CleanupJob struct {
	db       Executor
	dialect  database.Dialect
	logger   *slog.Logger
	recorder DeletionRecorder
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(db Executor, dialect database.Dialect, logger *slog.Logger, recorder DeletionRecorder) *CleanupJob {
	return &CleanupJob{
		db:       db,
		dialect:  dialect,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Run は有効期限が現在時刻より前のレコードを削除する。
// いずれかの削除に失敗した場合も残りの対象は処理し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().UTC()

	var firstErr error
	var total int64
	for _, t := range targets {
		deleted, err := j.purge(ctx, t, cutoff)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += deleted
	}

	duration := time.Since(start)
	j.logger.Info("cleanup job finished",
		slog.Int64("deleted_count", total),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

func (j *CleanupJob) purge(ctx context.Context, t target, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, j.dialect.Rebind(t.query), cutoff)
	if err != nil {
		j.logger.Error("failed to delete expired records",
			slog.String("kind", t.kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete expired %s: %w", t.kind, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("failed to get deleted count",
			slog.String("kind", t.kind),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to get deleted count for %s: %w", t.kind, err)
	}

	j.logger.Info("expired records deleted",
		slog.String("kind", t.kind),
		slog.Int64("deleted_count", deleted),
	)
	if j.recorder != nil {
		j.recorder.RecordCleanupDeleted(t.kind, deleted)
	}
	return deleted, nil
}

// Start はintervalごとにRunを実行する。起動直後に1回実行し、ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
