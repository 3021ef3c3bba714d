package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RequestJSON sends a JSON request and returns the final status and body.
// Transport errors and 5xx responses are retried up to retries times; other
// statuses return immediately. When both authHeader and authToken are set
// the pair is attached to every attempt, so retried calls stay authenticated.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, authHeader, authToken string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	for attempt := 0; ; attempt++ {
		status, respBody, err := sendJSON(ctx, client, method, url, body, authHeader, authToken)
		if attempt >= retries || !retryableResult(status, err) {
			return status, respBody, err
		}
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

func sendJSON(ctx context.Context, client *http.Client, method, url string, body []byte, authHeader, authToken string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" && authToken != "" {
		req.Header.Set(authHeader, authToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

func retryableResult(status int, err error) bool {
	return err != nil || status >= http.StatusInternalServerError
}
