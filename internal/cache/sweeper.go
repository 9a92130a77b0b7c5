package cache

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper は期限切れエントリを自前で削除する必要があるStoreが実装する。
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// RunSweeper は interval ごとに期限切れエントリを削除する。
// ctx がキャンセルされるまでブロックする。
func RunSweeper(ctx context.Context, s Sweeper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			deleted, err := s.Sweep(ctx)
			if err != nil {
				logger.Error("期限切れキャッシュの削除に失敗しました",
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.Info("期限切れキャッシュを削除しました",
				slog.Int64("deleted_count", deleted),
				slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
			)
		}
	}
}
