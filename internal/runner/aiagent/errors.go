package aiagent

import "github.com/lyzr/workflow-platform/internal/apperr"

// kindForStatus maps an HTTP status code from any of the three
// HTTP-backed providers (OpenAI, Gemini/OpenRouter compatible client,
// and Anthropic's own apierror.StatusCode) onto the shared AI_AGENT
// taxonomy, per the uniform error-mapping rule.
func kindForStatus(status int) apperr.Kind {
	switch {
	case status == 401 || status == 403:
		return apperr.AuthError
	case status == 429:
		return apperr.RateLimit
	case status == 400 || status == 404 || status == 422:
		return apperr.ValidationError
	case status == 408:
		return apperr.Timeout
	case status >= 500:
		return apperr.ModelError
	default:
		return apperr.NetworkError
	}
}
