package router

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"aigateway/internal/core"
	"aigateway/internal/snapshot"
)

// Endpoint option keys understood by the router.
const (
	OptionRateLimit      = "rate_limit"
	OptionStrict         = "strict"
	OptionRequestTimeout = "request_timeout"
)

var renewalPeriods = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// RateLimit allows Calls calls per RenewalPeriod.
type RateLimit struct {
	Calls         int
	RenewalPeriod time.Duration
}

func (l RateLimit) String() string {
	return fmt.Sprintf("%d/%s", l.Calls, l.RenewalPeriod)
}

// ParseRateLimit reads the rate_limit option: {"calls": N, "renewal_period": "minute"}.
// It returns nil when the option is absent.
func ParseRateLimit(opts core.Options) (*RateLimit, error) {
	raw, ok := opts[OptionRateLimit]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object with calls and renewal_period", OptionRateLimit)
	}

	calls, ok := toInt(m["calls"])
	if !ok || calls <= 0 {
		return nil, fmt.Errorf("%s.calls must be a positive integer", OptionRateLimit)
	}
	periodName, _ := m["renewal_period"].(string)
	if periodName == "" {
		periodName = "minute"
	}
	period, ok := renewalPeriods[strings.ToLower(periodName)]
	if !ok {
		return nil, fmt.Errorf("%s.renewal_period must be one of second, minute, hour, day", OptionRateLimit)
	}
	return &RateLimit{Calls: calls, RenewalPeriod: period}, nil
}

// ParseRequestTimeout reads the request_timeout option in seconds; zero when absent.
func ParseRequestTimeout(opts core.Options) (time.Duration, error) {
	raw, ok := opts[OptionRequestTimeout]
	if !ok || raw == nil {
		return 0, nil
	}
	var secs float64
	switch v := raw.(type) {
	case float64:
		secs = v
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	default:
		return 0, fmt.Errorf("%s must be a number of seconds", OptionRequestTimeout)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("%s must be positive", OptionRequestTimeout)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// ValidateOptions checks the endpoint options the router interprets. The
// endpoint registry runs it before every create and update.
func ValidateOptions(opts core.Options) error {
	if _, err := ParseRateLimit(opts); err != nil {
		return err
	}
	if _, err := ParseRequestTimeout(opts); err != nil {
		return err
	}
	if v, ok := opts[OptionStrict]; ok {
		if _, isBool := v.(bool); !isBool {
			return fmt.Errorf("%s must be a boolean", OptionStrict)
		}
	}
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

// limiters holds one token bucket per endpoint. A bucket is keyed by the
// endpoint name and its limit, so changing the limit starts a fresh bucket.
type limiters struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limit   string
	limiter *rate.Limiter
}

func newLimiters() *limiters {
	return &limiters{buckets: make(map[string]*bucket)}
}

// allow reports whether the endpoint may issue another call.
func (l *limiters) allow(ep core.Endpoint) (bool, error) {
	limit, err := ParseRateLimit(ep.Options)
	if err != nil || limit == nil {
		return true, err
	}

	l.mu.Lock()
	b, ok := l.buckets[ep.Name]
	if !ok || b.limit != limit.String() {
		b = &bucket{
			limit:   limit.String(),
			limiter: rate.NewLimiter(rate.Every(limit.RenewalPeriod/time.Duration(limit.Calls)), limit.Calls),
		}
		l.buckets[ep.Name] = b
	}
	l.mu.Unlock()

	return b.limiter.Allow(), nil
}

// prune drops buckets for endpoints that no longer exist or lost their limit.
func (l *limiters) prune(s *snapshot.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, b := range l.buckets {
		ep, ok := s.Endpoint(name)
		if !ok {
			delete(l.buckets, name)
			continue
		}
		limit, err := ParseRateLimit(ep.Options)
		if err != nil || limit == nil || limit.String() != b.limit {
			delete(l.buckets, name)
		}
	}
}
