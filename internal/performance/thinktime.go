package performance

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/wesleyorama2/stampede/internal/performance/config"
)

// ThinkTimeType identifies the pause strategy between iterations.
type ThinkTimeType string

const (
	ThinkTimeNone     ThinkTimeType = "none"
	ThinkTimeConstant ThinkTimeType = "constant"
	ThinkTimeRandom   ThinkTimeType = "random"
)

// ThinkTime controls the pause a VU takes after each iteration.
type ThinkTime struct {
	Type     ThinkTimeType
	Duration time.Duration
	Min      time.Duration
	Max      time.Duration
}

// Next returns the next pause length.
func (t ThinkTime) Next() time.Duration {
	switch t.Type {
	case ThinkTimeConstant:
		return t.Duration
	case ThinkTimeRandom:
		if diff := t.Max - t.Min; diff > 0 {
			return t.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return t.Min
	default:
		return 0
	}
}

// ParseThinkTime converts the configuration form. A nil config means no
// think time.
func ParseThinkTime(cfg *config.ThinkTimeConfig) (ThinkTime, error) {
	if cfg == nil {
		return ThinkTime{Type: ThinkTimeNone}, nil
	}

	tt := ThinkTime{Type: ThinkTimeType(cfg.Type)}
	if tt.Type == "" {
		tt.Type = ThinkTimeNone
	}

	var err error
	switch tt.Type {
	case ThinkTimeNone:
	case ThinkTimeConstant:
		tt.Duration, err = config.ParseDurationString(cfg.Duration)
	case ThinkTimeRandom:
		if tt.Min, err = config.ParseDurationString(cfg.Min); err == nil {
			tt.Max, err = config.ParseDurationString(cfg.Max)
		}
	default:
		err = fmt.Errorf("unknown think time type %q", cfg.Type)
	}
	if err != nil {
		return ThinkTime{}, fmt.Errorf("%w: think time: %v", config.ErrInvalidConfig, err)
	}

	return tt, nil
}
