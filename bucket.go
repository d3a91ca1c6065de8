package llmdispatch

import (
	"fmt"
	"strings"
)

// Bucket groups model identifiers that share one queue and one rate-limit
// snapshot.
type Bucket uint8

const (
	BucketDefault Bucket = iota
	BucketGPT35_4K
	BucketGPT35_16K
	BucketGPT4_8K
	BucketGPT4_32K
	BucketGPT4_128K

	// BucketAll is the accounting-only aggregate. No model resolves to it.
	BucketAll

	numBuckets
)

var bucketKeys = [numBuckets]string{
	BucketDefault:   "default",
	BucketGPT35_4K:  "gpt35-4",
	BucketGPT35_16K: "gpt35-16",
	BucketGPT4_8K:   "gpt4-8",
	BucketGPT4_32K:  "gpt4-32",
	BucketGPT4_128K: "gpt4-128",
	BucketAll:       "all",
}

// String returns the bucket's stable short key.
func (b Bucket) String() string {
	if b >= numBuckets {
		return "unknown"
	}
	return bucketKeys[b]
}

// MarshalText encodes the bucket as its short key.
func (b Bucket) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText decodes a short key.
func (b *Bucket) UnmarshalText(text []byte) error {
	v, ok := ParseBucket(string(text))
	if !ok {
		return fmt.Errorf("llmdispatch: unknown bucket %q", text)
	}
	*b = v
	return nil
}

// Buckets returns every queue-owning bucket in declaration order.
func Buckets() []Bucket {
	out := make([]Bucket, 0, numBuckets-1)
	for b := Bucket(0); b < numBuckets; b++ {
		if b != BucketAll {
			out = append(out, b)
		}
	}
	return out
}

// ParseBucket returns the bucket with the given short key.
func ParseBucket(key string) (Bucket, bool) {
	for b, k := range bucketKeys {
		if k == key {
			return Bucket(b), true
		}
	}
	return BucketDefault, false
}

// ResolveBucket collapses a raw model identifier into its bucket.
func ResolveBucket(model string) Bucket {
	m := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}

	switch {
	case strings.HasPrefix(m, "gpt-4o"),
		strings.HasPrefix(m, "gpt-4-turbo"),
		strings.HasPrefix(m, "gpt-4") && (strings.Contains(m, "128k") ||
			strings.Contains(m, "1106") ||
			strings.Contains(m, "0125") ||
			strings.Contains(m, "preview") ||
			strings.Contains(m, "vision")):
		return BucketGPT4_128K
	case strings.HasPrefix(m, "gpt-4-32k"):
		return BucketGPT4_32K
	case strings.HasPrefix(m, "gpt-4"):
		return BucketGPT4_8K
	case strings.HasPrefix(m, "gpt-3.5") && (strings.Contains(m, "16k") ||
		strings.Contains(m, "1106") ||
		strings.Contains(m, "0125")):
		return BucketGPT35_16K
	case strings.HasPrefix(m, "gpt-3.5"):
		return BucketGPT35_4K
	default:
		return BucketDefault
	}
}
