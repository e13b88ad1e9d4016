package embedder

import (
	"os"
	"strconv"
	"time"
)

// Environment variables recognized by NewFromEnv.
const (
	EnvModel        = "RECOLLECT_MODEL"
	EnvOllamaURL    = "RECOLLECT_OLLAMA_URL"
	EnvCacheEntries = "RECOLLECT_CACHE_ENTRIES"
	EnvCacheMB      = "RECOLLECT_CACHE_MB"
	EnvTargetMS     = "RECOLLECT_EMBED_TARGET_MS"
)

// NewFromEnv builds a Generator from environment variables, falling back to
// defaults for anything unset. The model still has to pass the allow-list.
func NewFromEnv() (*Generator, error) {
	cfg := DefaultConfig()

	if model := os.Getenv(EnvModel); model != "" {
		cfg.Model = model
	}
	if url := os.Getenv(EnvOllamaURL); url != "" {
		cfg.BaseURL = url
	}
	if entries := envInt(EnvCacheEntries); entries > 0 {
		cfg.CacheMaxEntries = entries
	}
	if mb := envInt(EnvCacheMB); mb > 0 {
		cfg.CacheMaxBytes = int64(mb) << 20
	}
	if ms := envInt(EnvTargetMS); ms > 0 {
		cfg.PerformanceTarget = time.Duration(ms) * time.Millisecond
	}

	return New(cfg, nil)
}

func envInt(key string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
