package gateway

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

	ilog "github.com/akalitenya/discord-matchmaking/internal/log"

	"github.com/google/uuid"
)

const (
	DefaultServersPath = "/v1/servers"
)

type Connector struct {
	baseURL *url.URL
	client  *http.Client
	authKey string
}

type createPayload struct {
	Name    string   `json:"name"`
	MatchID int64    `json:"match_id"`
	Maps    []string `json:"maps"`
	Slots   int      `json:"slots"`
}

func NewConnector(baseURL string, timeout time.Duration, authKey string) (*Connector, error) {
	normalized := strings.TrimSpace(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}

	u, err := url.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url, need scheme and host: %s", normalized)
	}

	clientTimeout := timeout
	if clientTimeout <= 0 {
		clientTimeout = 10 * time.Second
	}

	return &Connector{
		baseURL: u,
		client: &http.Client{
			Timeout: clientTimeout,
		},
		authKey: strings.TrimSpace(authKey),
	}, nil
}

func (c *Connector) Create(ctx context.Context, serverName string, spec CreateSpec) error {
	logger := ilog.Component("gateway")
	name := strings.TrimSpace(serverName)
	if name == "" {
		return fmt.Errorf("server name is required")
	}

	payload := createPayload{
		Name:    name,
		MatchID: spec.MatchID,
		Maps:    spec.Maps,
		Slots:   spec.Slots,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode create payload failed: %w", err)
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: DefaultServersPath})
	logger.Infof("requesting server creation name=%s slots=%d", name, spec.Slots)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	return c.do(req, "create", name)
}

func (c *Connector) Destroy(ctx context.Context, serverName string) error {
	logger := ilog.Component("gateway")
	name := strings.TrimSpace(serverName)
	if name == "" {
		return fmt.Errorf("server name is required")
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: DefaultServersPath + "/" + name})
	logger.Infof("requesting server teardown name=%s", name)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build destroy request failed: %w", err)
	}
	c.setAuth(req)

	return c.do(req, "destroy", name)
}

func (c *Connector) setAuth(req *http.Request) {
	if c.authKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.authKey)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func (c *Connector) do(req *http.Request, op string, name string) error {
	logger := ilog.Component("gateway")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response failed: %w", op, err)
	}

	preview := strings.TrimSpace(string(body))
	if len(preview) > 240 {
		preview = preview[:240] + "..."
	}
	logger.Infof("gateway %s response name=%s status=%d body=%q", op, name, resp.StatusCode, preview)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway %s rejected name=%s status=%d body=%q", op, name, resp.StatusCode, preview)
	}
	return nil
}

var _ Gateway = (*Connector)(nil)
