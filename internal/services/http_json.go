package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// getJSON GETs reqURL and decodes a 2xx body into out. A 404 leaves out
// untouched and returns nil.
func getJSON(ctx context.Context, client *http.Client, service, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Service: service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpstreamError{Service: service, Status: resp.StatusCode, Message: upstreamMessage(resp.Status, body)}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}
