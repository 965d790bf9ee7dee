// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/relaychat/internal/model"
	"github.com/jeranaias/relaychat/internal/sse"
)

// DefaultRelayURL is the relay address used when none is configured.
const DefaultRelayURL = "http://localhost:8080"

// RelayClient is the HTTP Transport to the relay.
type RelayClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Streams are bounded by the caller's context, not a client timeout.
		httpClient: &http.Client{},
	}
}

// BaseURL returns the relay address.
func (c *RelayClient) BaseURL() string {
	return c.baseURL
}

type streamRequest struct {
	Messages []model.Message `json:"messages"`
}

// OpenStream posts history to the relay and returns the event stream body.
func (c *RelayClient) OpenStream(ctx context.Context, history []model.Message) (io.ReadCloser, error) {
	if history == nil {
		history = []model.Message{}
	}
	body, err := json.Marshal(streamRequest{Messages: history})
	if err != nil {
		return nil, &TransportError{Message: "encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", sse.ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Message: "could not reach relay", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, &TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("could not open stream: relay responded %s", resp.Status),
		}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &TransportError{Status: resp.StatusCode, Message: "could not open stream: relay sent no body"}
	}
	return resp.Body, nil
}

// RelayHealth is the relay's /health answer.
type RelayHealth struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Version  string `json:"version"`
	Upstream string `json:"upstream"`
	Model    string `json:"model"`
}

// Health queries the relay's health endpoint.
func (c *RelayClient) Health(ctx context.Context) (RelayHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var health RelayHealth
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return health, &TransportError{Message: "build request", Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return health, &TransportError{Message: "could not reach relay", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return health, &TransportError{Status: resp.StatusCode, Message: "relay health check failed: " + resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, &TransportError{Message: "decode health response", Cause: err}
	}
	return health, nil
}
