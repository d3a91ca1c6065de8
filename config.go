package llmdispatch

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level dispatcher configuration.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	Auth         Auth   `yaml:"auth"`
	DefaultModel string `yaml:"default_model"`
	MaxAttempts  int    `yaml:"max_attempts"`
	ArtifactDir  string `yaml:"artifact_dir"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("llmdispatch: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("llmdispatch: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("llmdispatch: config: invalid base_url %q", c.BaseURL)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("llmdispatch: config: max_attempts must not be negative")
	}
	return nil
}

// Options translates the config into dispatcher options.
func (c Config) Options() []Option {
	var opts []Option
	if c.Auth.APIKey != "" {
		opts = append(opts, WithAuth(c.Auth))
	}
	if c.DefaultModel != "" {
		opts = append(opts, WithDefaultModel(c.DefaultModel))
	}
	if c.MaxAttempts > 0 {
		opts = append(opts, WithMaxAttempts(c.MaxAttempts))
	}
	return opts
}

// ProxyConfig holds the outbound proxy settings read from the environment.
type ProxyConfig struct {
	HTTP  string `env:"http_proxy"`
	HTTPS string `env:"https_proxy"`
}

// LoadProxyConfig reads http_proxy and https_proxy from the process
// environment.
func LoadProxyConfig() (ProxyConfig, error) {
	var c ProxyConfig
	if err := env.Parse(&c); err != nil {
		return ProxyConfig{}, fmt.Errorf("llmdispatch: proxy env: %w", err)
	}
	return c, nil
}

// ProxyFunc returns the proxy selector for http.Transport. https requests
// use the https proxy and fall back to the http proxy; http requests use the
// http proxy. With neither set no proxy is used.
func (c ProxyConfig) ProxyFunc() func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		raw := c.HTTP
		if req.URL.Scheme == "https" && c.HTTPS != "" {
			raw = c.HTTPS
		}
		if raw == "" {
			return nil, nil
		}
		return parseProxy(raw)
	}
}

func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("llmdispatch: invalid proxy %q: %w", raw, err)
	}
	return u, nil
}

// NewHTTPClient returns an HTTP client routed through the configured proxy.
func (c ProxyConfig) NewHTTPClient() *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = c.ProxyFunc()
	return &http.Client{Transport: t}
}
