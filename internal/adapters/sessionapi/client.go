// Package sessionapi talks to the session API over HTTP.
package sessionapi

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

	"github.com/dkeye/callcoord/internal/core"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/rs/zerolog/log"
)

const ParticipantHeader = "X-Participant-Id"

type Client struct {
	base string
	self domain.ParticipantID
	http *http.Client
}

func NewClient(baseURL string, self domain.ParticipantID, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		self: self,
		http: &http.Client{Timeout: timeout},
	}
}

type createRequest struct {
	ContextType domain.ContextType `json:"contextType"`
	ContextID   string             `json:"contextId"`
	Mode        domain.Mode        `json:"mode"`
}

type endRequest struct {
	Missed bool `json:"missed,omitempty"`
}

func (c *Client) Create(ctx context.Context, ct domain.ContextType, contextID string, mode domain.Mode) (*domain.CallSession, error) {
	var out domain.CallSession
	body := createRequest{ContextType: ct, ContextID: contextID, Mode: mode}
	if _, err := c.do(ctx, http.MethodPost, "/sessions", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Active(ctx context.Context, ct domain.ContextType, contextID string) (*domain.CallSession, error) {
	q := url.Values{}
	q.Set("contextType", string(ct))
	q.Set("contextId", contextID)
	var out domain.CallSession
	status, err := c.do(ctx, http.MethodGet, "/sessions/active?"+q.Encode(), nil, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &out, nil
}

func (c *Client) Accept(ctx context.Context, id domain.SessionID) (*domain.CallSession, error) {
	var out domain.CallSession
	if _, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(string(id))+"/accept", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) End(ctx context.Context, id domain.SessionID, missed bool) error {
	_, err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(string(id))+"/end", endRequest{Missed: missed}, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(ParticipantHeader, string(c.self))

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn().Str("module", "sessionapi").Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return resp.StatusCode, &core.APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}
