package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// JSONCache stores values as JSON on top of any Store
type JSONCache struct {
	store Store
}

func NewJSONCache(store Store) *JSONCache {
	return &JSONCache{store: store}
}

func (a *JSONCache) Get(ctx context.Context, key string, value any) error {
	data, err := a.store.Get(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, value)
}

func (a *JSONCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return a.store.Set(ctx, key, data, ttl)
}

// Cleaner drops expired entries and reports how many it removed
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// RunJanitor removes expired entries every interval until ctx is done
func RunJanitor(ctx context.Context, store Cleaner, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("cache cleanup failed", slog.Any("error", err))
				continue
			}
			if removed > 0 {
				logger.Debug("cache cleanup", slog.Int64("removed", removed))
			}
		}
	}
}
