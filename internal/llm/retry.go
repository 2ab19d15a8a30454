package llm

import (
	"context"
	"log/slog"
	"time"
)

// RetryPolicy bounds retries of rate-limited calls.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryPolicy allows three attempts starting with a five second wait.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: 5 * time.Second}

type retrying struct {
	next   Generator
	policy RetryPolicy
}

// WithRetry retries calls that fail with ErrorTypeRateLimit, doubling the
// delay each time. Other failures are returned immediately.
func WithRetry(g Generator, policy RetryPolicy) Generator {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retrying{next: g, policy: policy}
}

func (r *retrying) Provider() string { return ProviderName(r.next) }

func (r *retrying) Generate(ctx context.Context, req Request) (string, error) {
	delay := r.policy.InitialDelay
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		var text string
		text, err = r.next.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		if !Is(err, ErrorTypeRateLimit) || attempt == r.policy.MaxAttempts {
			return "", err
		}

		slog.Debug("Generator rate limited, retrying",
			"label", req.Label,
			"attempt", attempt,
			"delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return "", err
}
