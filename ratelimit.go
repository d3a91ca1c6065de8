package llmdispatch

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Rate-limit response headers.
const (
	HeaderLimitRequests     = "x-ratelimit-limit-requests"
	HeaderLimitTokens       = "x-ratelimit-limit-tokens"
	HeaderRemainingRequests = "x-ratelimit-remaining-requests"
	HeaderRemainingTokens   = "x-ratelimit-remaining-tokens"
	HeaderResetRequests     = "x-ratelimit-reset-requests"
	HeaderResetTokens       = "x-ratelimit-reset-tokens"
)

// defaultResetWait is used when a reset window cannot be parsed.
const defaultResetWait = time.Second

// RateLimitSnapshot is the best current estimate of a bucket's quota.
type RateLimitSnapshot struct {
	LimitRequests     int64
	LimitTokens       int64
	RemainingRequests int64
	RemainingTokens   int64
	ResetRequests     string
	ResetTokens       string
}

// Apply overwrites every field whose header is present and parses.
// Absent headers leave the prior value untouched. Returns true if any
// field was updated.
func (s *RateLimitSnapshot) Apply(h http.Header) bool {
	if len(h) == 0 {
		return false
	}
	updated := false
	setInt := func(name string, dst *int64) {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			return
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return
		}
		*dst = n
		updated = true
	}
	setStr := func(name string, dst *string) {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			return
		}
		*dst = v
		updated = true
	}

	setInt(HeaderLimitRequests, &s.LimitRequests)
	setInt(HeaderLimitTokens, &s.LimitTokens)
	setInt(HeaderRemainingRequests, &s.RemainingRequests)
	setInt(HeaderRemainingTokens, &s.RemainingTokens)
	setStr(HeaderResetRequests, &s.ResetRequests)
	setStr(HeaderResetTokens, &s.ResetTokens)
	return updated
}

// ResetWait returns how long to wait before the exhausted window reopens:
// the larger of the two reset durations, or one second when neither parses
// to a positive value.
func (s RateLimitSnapshot) ResetWait() time.Duration {
	d := max(ParseReset(s.ResetRequests), ParseReset(s.ResetTokens))
	if d <= 0 {
		return defaultResetWait
	}
	return d
}

// RequestsResetWait returns the request window reset duration, falling back
// to one second.
func (s RateLimitSnapshot) RequestsResetWait() time.Duration {
	if d := ParseReset(s.ResetRequests); d > 0 {
		return d
	}
	return defaultResetWait
}

// ParseReset parses a reset duration such as "120ms", "3s" or "6m0s".
// A bare number is read as seconds. Unparsable input yields 0.
func ParseReset(s string) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return time.Duration(f * float64(time.Second))
	}
	return 0
}

// defaultSnapshots are the permissive startup values per bucket.
var defaultSnapshots = [numBuckets]RateLimitSnapshot{
	BucketDefault:   permissive(500, 150000),
	BucketGPT35_4K:  permissive(3500, 90000),
	BucketGPT35_16K: permissive(3500, 180000),
	BucketGPT4_8K:   permissive(500, 40000),
	BucketGPT4_32K:  permissive(100, 80000),
	BucketGPT4_128K: permissive(500, 150000),
}

func permissive(requests, tokens int64) RateLimitSnapshot {
	return RateLimitSnapshot{
		LimitRequests:     requests,
		LimitTokens:       tokens,
		RemainingRequests: requests,
		RemainingTokens:   tokens,
		ResetRequests:     "1s",
		ResetTokens:       "1s",
	}
}

// DefaultSnapshot returns the compiled-in startup snapshot for a bucket.
func DefaultSnapshot(b Bucket) RateLimitSnapshot {
	if b >= numBuckets {
		return RateLimitSnapshot{}
	}
	return defaultSnapshots[b]
}
