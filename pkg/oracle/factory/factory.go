package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"image-labeler-be/pkg/oracle"
	"image-labeler-be/pkg/oracle/cache"
	"image-labeler-be/pkg/oracle/clip"
	"image-labeler-be/pkg/oracle/huggingface"
)

type Options struct {
	Backend string // "huggingface" or "clip"
	ModelID string
	Timeout time.Duration

	HuggingFaceBaseURL string
	HuggingFaceAPIKey  string

	OrtLibraryPath string
	OnnxModelPath  string
	TokenizerPath  string
	PromptTemplate string

	CacheBackend string // "none", "memory" or "redis"
	CacheTTL     time.Duration
	Redis        *redis.Client
}

// NewOracle builds the configured backend, wrapped with the result cache
// when one is enabled.
func NewOracle(opts Options) (oracle.Oracle, error) {
	var o oracle.Oracle
	switch opts.Backend {
	case "", "huggingface":
		o = huggingface.NewHuggingFaceProvider(
			opts.HuggingFaceAPIKey,
			opts.HuggingFaceBaseURL,
			opts.ModelID,
			opts.Timeout,
		)
	case "clip":
		p, err := clip.NewProvider(clip.Config{
			SharedLibraryPath: opts.OrtLibraryPath,
			ModelPath:         opts.OnnxModelPath,
			TokenizerPath:     opts.TokenizerPath,
			ModelID:           opts.ModelID,
			PromptTemplate:    opts.PromptTemplate,
		})
		if err != nil {
			return nil, err
		}
		o = p
	default:
		return nil, fmt.Errorf("unsupported oracle backend: %s", opts.Backend)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	switch opts.CacheBackend {
	case "", "none":
		return o, nil
	case "memory":
		return cache.New(o, cache.NewMemoryStore(ttl)), nil
	case "redis":
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis cache selected but no redis client configured")
		}
		return cache.New(o, cache.NewRedisStore(opts.Redis, ttl)), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", opts.CacheBackend)
	}
}

// NewManager wraps NewOracle in the lazy process-wide manager.
func NewManager(opts Options) *oracle.Manager {
	return oracle.NewManager(func(context.Context) (oracle.Oracle, error) {
		return NewOracle(opts)
	})
}
