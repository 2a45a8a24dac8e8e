package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/chatform/internal/domain"
	"github.com/soyeahso/chatform/internal/version"
)

// HTTPProvider fetches agent definitions from GET {BaseURL}/{id}.
// A 404 or a null body means the agent does not exist; transport failures
// and 5xx responses wrap ErrUnavailable.
type HTTPProvider struct {
	BaseURL string
	Token   string
	client  *http.Client
}

// NewHTTPProvider creates a provider for a remote agents endpoint.
func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Get implements Provider.
func (p *HTTPProvider) Get(ctx context.Context, id string) (*domain.AgentConfig, error) {
	if !validID(id) {
		return nil, ErrAgentNotFound
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAgentNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("agent endpoint returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "null" {
		return nil, ErrAgentNotFound
	}

	var cfg domain.AgentConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("decoding agent %q: %w", id, err)
	}
	if cfg.ID == "" {
		cfg.ID = id
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
