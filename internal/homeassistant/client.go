// Package homeassistant drives lights through the Home Assistant REST API and
// exposes them as agent skills.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	// BaseURL is the Home Assistant instance, e.g. http://homeassistant.local:8123.
	BaseURL string
	// Token is a long-lived access token.
	Token   string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu       sync.Mutex
	requests uint64
	failures uint64
	lastErr  string
}

type Snapshot struct {
	BaseURL   string `json:"base_url"`
	Requests  uint64 `json:"requests"`
	Failures  uint64 `json:"failures"`
	LastError string `json:"last_error,omitempty"`
}

// entityState mirrors the subset of /api/states we render for the agent.
type entityState struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		FriendlyName string   `json:"friendly_name"`
		Brightness   *float64 `json:"brightness"`
	} `json:"attributes"`
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("home assistant base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: base,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		BaseURL:   c.baseURL,
		Requests:  c.requests,
		Failures:  c.failures,
		LastError: c.lastErr,
	}
}

// do issues one API request and returns the raw body. Non-2xx statuses are
// errors carrying as much of the response body as fits one line.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	c.mu.Lock()
	c.requests++
	c.mu.Unlock()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, c.fail(fmt.Errorf("encode request: %w", err))
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, rd)
	if err != nil {
		return nil, c.fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("home assistant request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, c.fail(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(data))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return nil, c.fail(fmt.Errorf("home assistant status %d: %s", resp.StatusCode, detail))
	}
	return data, nil
}

func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.failures++
	c.lastErr = err.Error()
	c.mu.Unlock()
	return err
}

func (c *Client) callService(ctx context.Context, service, entityID string) error {
	if !strings.HasPrefix(entityID, "light.") {
		return fmt.Errorf("entity_id %q is not a light", entityID)
	}
	_, err := c.do(ctx, http.MethodPost, "/api/services/light/"+service,
		map[string]string{"entity_id": entityID})
	return err
}

func (c *Client) TurnOnLight(ctx context.Context, entityID string) error {
	return c.callService(ctx, "turn_on", entityID)
}

func (c *Client) TurnOffLight(ctx context.Context, entityID string) error {
	return c.callService(ctx, "turn_off", entityID)
}

// ListLights renders every light.* entity with its friendly name and state.
func (c *Client) ListLights(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return "", err
	}
	var states []entityState
	if err := json.Unmarshal(data, &states); err != nil {
		return "", c.fail(fmt.Errorf("decode states: %w", err))
	}

	var lines []string
	for _, st := range states {
		if !strings.HasPrefix(st.EntityID, "light.") {
			continue
		}
		name := st.Attributes.FriendlyName
		if name == "" {
			name = st.EntityID
		}
		lines = append(lines, fmt.Sprintf("- %s (%s): %s", st.EntityID, name, st.State))
	}
	if len(lines) == 0 {
		return "No lights found in Home Assistant", nil
	}
	return "Available lights:\n" + strings.Join(lines, "\n"), nil
}

// LightState renders one light's state, including brightness as a percentage
// when the light reports it.
func (c *Client) LightState(ctx context.Context, entityID string) (string, error) {
	if strings.TrimSpace(entityID) == "" {
		return "", fmt.Errorf("entity_id is required")
	}
	data, err := c.do(ctx, http.MethodGet, "/api/states/"+entityID, nil)
	if err != nil {
		return "", err
	}
	var st entityState
	if err := json.Unmarshal(data, &st); err != nil {
		return "", c.fail(fmt.Errorf("decode state: %w", err))
	}

	name := st.Attributes.FriendlyName
	if name == "" {
		name = entityID
	}
	out := fmt.Sprintf("%s (%s) is %s", name, entityID, st.State)
	if st.Attributes.Brightness != nil {
		pct := int(*st.Attributes.Brightness / 255 * 100)
		out += fmt.Sprintf(" at %d%% brightness", pct)
	}
	return out, nil
}
