package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpSink posts events to an HTTP endpoint with retries.
type httpSink struct {
	endpoint string
	client   *http.Client
	retries  int
	delay    time.Duration
}

func newHTTPSink(endpoint string) *httpSink {
	return &httpSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		retries:  3,
		delay:    time.Second,
	}
}

// postWithRetry sends the event with exponential backoff between attempts.
func (s *httpSink) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := s.delay

	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", s.retries, lastErr)
}

func (s *httpSink) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}
