package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/chatform/internal/version"
)

// HTTPClient calls a remote chat function over HTTP.
type HTTPClient struct {
	url    string
	token  string
	client *http.Client
}

// NewHTTPClient creates a client for the chat function at url.
func NewHTTPClient(url, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// Send implements Service.
func (c *HTTPClient) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Action == "" {
		req.Action = ActionSendMessage
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: "send", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &NetworkError{Op: "read", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &NetworkError{Op: "send", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out Response
	decodeErr := json.Unmarshal(respBody, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ApplicationError{Message: msg, Status: resp.StatusCode}
	}
	if decodeErr != nil {
		return nil, &ApplicationError{Message: "malformed response from chat function", Status: resp.StatusCode, Err: decodeErr}
	}
	if out.Error != "" {
		return nil, &ApplicationError{Message: out.Error, Status: resp.StatusCode}
	}
	return &out, nil
}
