package explain

import (
	"context"

	"go.uber.org/zap"

	"github.com/inodb/pharmguard/internal/report"
)

// Fallback serves the fallback explainer whenever the primary fails.
type Fallback struct {
	primary    Explainer
	fallback   Explainer
	logger     *zap.Logger
	onFallback func(error)
}

// WithFallback wraps primary so that its errors are replaced by fallback output.
func WithFallback(primary, fallback Explainer) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		logger:   zap.NewNop(),
	}
}

// SetLogger sets the logger for fallback warnings.
func (f *Fallback) SetLogger(l *zap.Logger) {
	f.logger = l
}

// OnFallback registers a hook called with the primary error on each fallback.
func (f *Fallback) OnFallback(fn func(error)) {
	f.onFallback = fn
}

// Explain tries the primary explainer, then the fallback.
func (f *Fallback) Explain(ctx context.Context, c Context) (report.Explanation, error) {
	exp, err := f.primary.Explain(ctx, c)
	if err == nil {
		return exp, nil
	}

	f.logger.Warn("explanation service unavailable, using fallback",
		zap.String("drug", c.Drug),
		zap.String("gene", c.Gene),
		zap.Error(err))
	if f.onFallback != nil {
		f.onFallback(err)
	}
	return f.fallback.Explain(ctx, c)
}
