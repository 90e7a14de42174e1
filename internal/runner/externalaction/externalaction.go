// Package externalaction implements the EXTERNAL_ACTION node type: one
// Runner per provider (SLACK, GITHUB, NOTION, GOOGLE_CALENDAR, DISCORD,
// EMAIL), each translating one logical operation into that provider's
// HTTP call, with rate-limit-aware retry on 429/503 per §4.3 step 3.
//
// Grounded on internal/runner/action's HTTPRunner retry/backoff shape
// (itself adapted from the teacher's http_worker.go) for doWithRetry
// below, and on internal/credential.Broker for token resolution (§4.3
// steps 1-2, shared by every OAuth-backed provider here).
package externalaction

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/lyzr/workflow-platform/internal/apperr"
)

// maxRetries bounds the 429/503 retry loop every provider runner shares.
const maxRetries = 3

// roundLog is one round of an AI-directed EXTERNAL_ACTION call, logged
// in full per round per the AI-directed mode's "structured rationale"
// requirement.
type roundLog struct {
	Round      int            `json:"round"`
	ActionType string         `json:"action_type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// AIPlanner is the narrow slice of an AI_AGENT provider an AI-directed
// EXTERNAL_ACTION runner needs: one text completion per round.
type AIPlanner interface {
	Complete(systemPrompt, userPrompt string) (string, error)
}

// doWithRetry executes attempt up to maxRetries+1 times, retrying only on
// a 429 or 503 response (or a transport error), sleeping for the
// response's Retry-After header when present and otherwise an
// exponential backoff with jitter.
func doWithRetry(ctx context.Context, attempt func() (*http.Response, error)) (*http.Response, error) {
	var lastErr error
	for try := 0; try <= maxRetries; try++ {
		resp, err := attempt()
		if err == nil && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
			return resp, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = apperr.New(statusKind(resp.StatusCode), "provider returned status "+strconv.Itoa(resp.StatusCode))
			resp.Body.Close()
		}
		if try == maxRetries {
			break
		}
		wait := time.Duration(0)
		if resp != nil {
			wait = retryAfter(resp)
		}
		if wait == 0 {
			base := float64(200) * pow(2, try)
			jitter := base * 0.2 * rand.Float64()
			wait = time.Duration(base+jitter) * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// retryAfter parses the standard Retry-After header (seconds form).
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func statusKind(status int) apperr.Kind {
	switch {
	case status == 401 || status == 403:
		return apperr.AuthError
	case status == 429:
		return apperr.RateLimit
	case status >= 500:
		return apperr.NetworkError
	case status >= 400:
		return apperr.ValidationError
	default:
		return apperr.Internal
	}
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
