// Package settings supplies the tunable matching parameters. The processor
// takes one Snapshot per batch so every job in the batch sees the same values.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/kiranshivaraju/facematch/internal/cache"
	"github.com/kiranshivaraju/facematch/internal/store"
	"github.com/kiranshivaraju/facematch/pkg/models"
)

type Provider interface {
	Snapshot(ctx context.Context) (models.Settings, error)
}

var keys = []string{
	models.SettingMatchThreshold,
	models.SettingMatchRateLimit,
	models.SettingMatchWindowMinute,
}

// StoreProvider reads settings from system_settings. Missing or unparsable
// values fall back to their defaults; a failed read is returned as an error.
type StoreProvider struct {
	store  store.SettingsStore
	logger *slog.Logger
}

func NewStoreProvider(s store.SettingsStore, logger *slog.Logger) *StoreProvider {
	return &StoreProvider{store: s, logger: logger}
}

func (p *StoreProvider) Snapshot(ctx context.Context) (models.Settings, error) {
	values, err := p.store.GetSettings(ctx, keys)
	if err != nil {
		return models.Settings{}, fmt.Errorf("read settings: %w", err)
	}

	s := models.DefaultSettings()
	if raw, ok := values[models.SettingMatchThreshold]; ok {
		if v, err := parseFloat(raw); err == nil {
			s.MatchThreshold = v
		} else {
			p.logger.Warn("invalid setting, using default", "key", models.SettingMatchThreshold, "error", err)
		}
	}
	if raw, ok := values[models.SettingMatchRateLimit]; ok {
		if v, err := parsePositiveInt(raw); err == nil {
			s.MatchRateLimit = v
		} else {
			p.logger.Warn("invalid setting, using default", "key", models.SettingMatchRateLimit, "error", err)
		}
	}
	if raw, ok := values[models.SettingMatchWindowMinute]; ok {
		if v, err := parsePositiveInt(raw); err == nil {
			s.MatchTimeWindowMinutes = v
		} else {
			p.logger.Warn("invalid setting, using default", "key", models.SettingMatchWindowMinute, "error", err)
		}
	}
	return s, nil
}

// parseFloat accepts a JSON number or a JSON string holding a number,
// since admin tooling writes both.
func parseFloat(raw json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, fmt.Errorf("not a number: %s", raw)
	}
	return strconv.ParseFloat(str, 64)
}

func parsePositiveInt(raw json.RawMessage) (int, error) {
	f, err := parseFloat(raw)
	if err != nil {
		return 0, err
	}
	if f <= 0 || f != float64(int(f)) {
		return 0, fmt.Errorf("not a positive integer: %s", raw)
	}
	return int(f), nil
}

// Cached serves snapshots from Redis for ttl. Cache failures never fail a
// snapshot; they fall through to the wrapped provider.
type Cached struct {
	next   Provider
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(next Provider, c cache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl, logger: logger}
}

func (c *Cached) Snapshot(ctx context.Context) (models.Settings, error) {
	data, found, err := c.cache.Get(ctx, cache.SettingsKey)
	if err != nil {
		c.logger.Warn("settings cache read failed", "error", err)
	}
	if found {
		var s models.Settings
		if err := json.Unmarshal(data, &s); err == nil {
			return s, nil
		}
	}

	s, err := c.next.Snapshot(ctx)
	if err != nil {
		return models.Settings{}, err
	}

	if data, err := json.Marshal(s); err == nil {
		if err := c.cache.Set(ctx, cache.SettingsKey, data, c.ttl); err != nil {
			c.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return s, nil
}

// New returns the store-backed provider, wrapped in a Redis cache when ttl
// is positive.
func New(s store.SettingsStore, c cache.Cache, ttl time.Duration, logger *slog.Logger) Provider {
	base := NewStoreProvider(s, logger)
	if c == nil || ttl <= 0 {
		return base
	}
	return NewCached(base, c, ttl, logger)
}
