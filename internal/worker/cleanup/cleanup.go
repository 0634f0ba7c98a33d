// Package cleanup はセッションデータの自動削除ジョブを提供する。
// 期限切れ・失効済みのセッション行を定期バッチで削除する。
// 有効期限の判定自体はリゾルブ時に行われるため、このジョブは
// ストレージの肥大化を防ぐためのものであり、遅延しても安全性に影響しない。
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger は期限切れセッションの削除を抽象化するインターフェース。
// session.Managerがそのまま満たす。
type SessionPurger interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// SessionCleanupJob は期限切れセッションの定期削除ジョブ。
// 冪等な削除処理であり、多重起動しても整合性は損なわれない。
type SessionCleanupJob struct {
	purger SessionPurger
	logger *slog.Logger
}

// NewSessionCleanupJob は新しいSessionCleanupJobを生成する。
func NewSessionCleanupJob(purger SessionPurger, logger *slog.Logger) *SessionCleanupJob {
	return &SessionCleanupJob{
		purger: purger,
		logger: logger,
	}
}

// Start は指定間隔のティッカーでジョブを起動する。
// 起動直後に1回実行し、以降コンテキストがキャンセルされるまで繰り返す。
func (j *SessionCleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session cleanup job started",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("session cleanup failed",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session cleanup job stopped")
			return
		case <-ticker.C:
			if err := j.RunOnce(ctx); err != nil {
				j.logger.Error("session cleanup failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れ・失効済みセッションを1回削除する。
// 削除対象がない場合でもエラーにならない。
func (j *SessionCleanupJob) RunOnce(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.purger.CleanupExpired(ctx)
	if err != nil {
		return err
	}

	if deleted > 0 {
		j.logger.Info("expired sessions cleaned up",
			slog.Int64("deleted", deleted),
			slog.Duration("duration", time.Since(start)),
		)
	}
	return nil
}
