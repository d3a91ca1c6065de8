// Package tokencount counts prompt units with tiktoken-go.
//
// BPE ranks are loaded from the files embedded by tiktoken-go-loader, so
// counting never touches the network.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

const fallbackEncoding = "cl100k_base"

// Per-message framing overhead of the chat format.
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Counter counts tokens per model. Encodings are cached; safe for
// concurrent use.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Default is the process-wide Counter.
var Default = NewCounter()

func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := Normalize(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("tokencount: falling back to base encoding",
			"model", model,
			"normalized", name,
			"error", err,
		)
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

// Normalize maps a model id onto a name tiktoken knows.
func Normalize(model string) string {
	model = strings.ToLower(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	switch {
	case strings.Contains(model, "gpt-4o"):
		return "gpt-4o"
	case strings.Contains(model, "gpt-4"):
		return "gpt-4"
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		return "gpt-4"
	}
}

// Count returns the number of tokens of text.
func (c *Counter) Count(model, text string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Message is one role/content pair of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// CountChat counts the tokens of a chat prompt including message framing.
func (c *Counter) CountChat(model string, msgs []Message) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	n := replyPriming
	for _, m := range msgs {
		n += tokensPerMessage
		n += len(enc.Encode(m.Role, nil, nil))
		n += len(enc.Encode(m.Content, nil, nil))
	}
	return n, nil
}
