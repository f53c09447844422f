package explain

import (
	"fmt"

	"go.uber.org/zap"
)

// Explainer modes.
const (
	ModeTemplate = "template"
	ModeOpenAI   = "openai"
)

// Config selects and configures the explainer strategy.
type Config struct {
	Mode      string
	OpenAI    OpenAIConfig
	CacheSize int
}

// New builds the explainer for cfg. The OpenAI mode is wrapped in a cache
// and a template fallback; without an API key it degrades to the template.
// onFallback may be nil.
func New(cfg Config, logger *zap.Logger, onFallback func(error)) (Explainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Mode {
	case "", ModeTemplate:
		return Template{}, nil
	case ModeOpenAI:
	default:
		return nil, fmt.Errorf("unknown explain mode %q", cfg.Mode)
	}

	client, err := NewOpenAI(cfg.OpenAI)
	if err != nil {
		logger.Warn("openai explainer disabled, using template explanations", zap.Error(err))
		return Template{}, nil
	}
	client.SetLogger(logger)

	var primary Explainer = client
	if cfg.CacheSize > 0 {
		cached, err := NewCache(client, cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		primary = cached
	}

	fb := WithFallback(primary, Template{})
	fb.SetLogger(logger)
	fb.OnFallback(onFallback)
	return fb, nil
}
