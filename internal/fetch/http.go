package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnsupportedFormat is returned when a remote endpoint answers with a body
// that cannot be turned into tabular data.
var ErrUnsupportedFormat = errors.New("unsupported payload format")

// maxPayloadBytes caps the size of any downloaded payload.
const maxPayloadBytes = 64 << 20

// StatusError reports a non-200 answer from a remote endpoint.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status %d fetching %s: %s", e.StatusCode, e.URL, e.Body)
}

// NewHTTPClient returns the client shared by all fetchers.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &http.Client{Timeout: timeout}
}

// download executes req and returns the body bytes.
func download(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http do request for %s: %w", redact(req), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{URL: redact(req), StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed reading body from %s: %w", redact(req), err)
	}
	if len(body) > maxPayloadBytes {
		return nil, fmt.Errorf("payload from %s exceeds %d bytes", redact(req), maxPayloadBytes)
	}
	return body, nil
}

func get(ctx context.Context, client *http.Client, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return download(client, req)
}

// redact strips the query string, which may carry api keys.
func redact(req *http.Request) string {
	u := *req.URL
	if u.RawQuery != "" {
		u.RawQuery = "..."
	}
	return u.String()
}
