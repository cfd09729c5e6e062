package llm

import (
	"context"
	"time"

	"datecoach/internal/logger"
	"datecoach/internal/metrics"
)

// LoggingProvider is a decorator that logs and times every model request.
type LoggingProvider struct {
	inner Provider
	log   *logger.Logger
}

// WithLogging wraps a Provider with request logging and latency metrics.
func WithLogging(p Provider, log *logger.Logger) Provider {
	if log == nil {
		log = logger.Nop()
	}
	return &LoggingProvider{inner: p, log: log}
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	elapsed := time.Since(start)

	metrics.RecordLLMRequest(l.inner.ModelID(), err == nil, elapsed)

	if err != nil {
		l.log.Warn("llm request failed",
			"model", l.inner.ModelID(),
			"latency_ms", elapsed.Milliseconds(),
			"error", err.Error(),
		)
		return nil, err
	}
	l.log.Debug("llm request",
		"model", resp.Model,
		"latency_ms", elapsed.Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return resp, nil
}

func (l *LoggingProvider) ModelID() string {
	return l.inner.ModelID()
}
