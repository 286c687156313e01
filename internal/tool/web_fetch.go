package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/batchismo/core/internal/model"
	"github.com/batchismo/core/internal/netguard"
)

// maxFetchBodyBytes bounds how much of a response body web_fetch will read,
// independent of the registry's own output truncation, so a slow/huge
// upstream doesn't hold the connection open past what we'd keep anyway.
const maxFetchBodyBytes = 2 << 20

// WebFetchTool issues an outbound GET, guarding every dial against SSRF via
// netguard. Unlike the filesystem tools this has no PathPolicy check — a
// policy rule names a path, not a URL — so the capability it declares is
// CapNetwork, and the guard is the only gate.
type WebFetchTool struct {
	client *http.Client
}

func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{client: newGuardedClient()}
}

func newGuardedClient() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			if err := netguard.ValidatePublicHostname(ctx, host); err != nil {
				return nil, err
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
	return &http.Client{
		Transport: transport,
		Timeout:   20 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			return netguard.ValidatePublicHostname(req.Context(), req.URL.Hostname())
		},
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch the contents of a public HTTP(S) URL." }
func (t *WebFetchTool) Capabilities() []Capability {
	return []Capability{CapNetwork}
}

func (t *WebFetchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Absolute http(s) URL to fetch"}
		},
		"required": ["url"]
	}`)
}

type webFetchInput struct {
	URL string `json:"url"`
}

type webFetchOutput struct {
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
	Truncated  bool   `json:"truncated"`
}

func (t *WebFetchTool) Execute(ctx context.Context, tc *Context, params json.RawMessage) (*model.ToolResult, error) {
	var in webFetchInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return &model.ToolResult{Content: fmt.Sprintf("unsupported scheme %q", req.URL.Scheme), IsError: true}, nil
	}
	if err := netguard.ValidatePublicHostname(ctx, req.URL.Hostname()); err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxFetchBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return &model.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	truncated := len(raw) > maxFetchBodyBytes
	if truncated {
		raw = raw[:maxFetchBodyBytes]
	}

	out := webFetchOutput{URL: in.URL, StatusCode: resp.StatusCode, Body: string(raw), Truncated: truncated}
	body, _ := json.Marshal(out)
	return &model.ToolResult{Content: string(body)}, nil
}
