package httpcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"rentlane/internal/common/logging"
	"rentlane/internal/reservation/domain"
)

// secretHeader carries the shared secret expected by the page renderer.
const secretHeader = "X-Revalidate-Secret"

// Revalidator implements domain.PageCache by asking the page renderer to
// rebuild the given paths. With no endpoint configured it only logs.
type Revalidator struct {
	client   *http.Client
	endpoint string
	secret   string
}

// NewRevalidator creates a Revalidator posting to endpoint.
func NewRevalidator(client *http.Client, endpoint, secret string) *Revalidator {
	return &Revalidator{client: client, endpoint: endpoint, secret: secret}
}

type revalidateRequest struct {
	Paths []string `json:"paths"`
}

// Revalidate posts the paths in one request. Any non-2xx answer is an error.
func (r *Revalidator) Revalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if r.endpoint == "" {
		logging.DebugContext(ctx, "page revalidation disabled", "paths", paths)
		return nil
	}

	body, err := json.Marshal(revalidateRequest{Paths: paths})
	if err != nil {
		return fmt.Errorf("marshal revalidate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build revalidate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.secret != "" {
		req.Header.Set(secretHeader, r.secret)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("revalidate %v: %w", paths, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revalidate %v: unexpected status %d", paths, resp.StatusCode)
	}
	return nil
}

var _ domain.PageCache = (*Revalidator)(nil)
