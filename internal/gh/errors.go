package gh

import "fmt"

// HTTPError is a non-2xx response from the GitHub API. Terminal statuses
// surface immediately; retryable ones only after the retry budget runs out.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string

	// rateRemaining is the X-RateLimit-Remaining header value, kept so the
	// retry decision can distinguish rate-limited 403s from plain denials.
	rateRemaining string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("github: GET %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("github: GET %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}
