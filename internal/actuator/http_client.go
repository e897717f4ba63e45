package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TokenSource issues bearer tokens for a hub.
type TokenSource interface {
	Sign(hubID string) (string, error)
}

// HTTPClient sends device actions to the actuator REST endpoint.
type HTTPClient struct {
	baseURL string
	tokens  TokenSource
	client  *http.Client
}

// HTTPOption configures the client.
type HTTPOption func(*HTTPClient)

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(tokens TokenSource) HTTPOption {
	return func(c *HTTPClient) {
		c.tokens = tokens
	}
}

// WithHTTPClient overrides the underlying http client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClient constructs an actuator client.
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("actuator: empty base url")
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type actionRequest struct {
	HubID        string        `json:"hub_id"`
	ScenarioName string        `json:"scenario_name"`
	Action       actionPayload `json:"action"`
	Timestamp    time.Time     `json:"timestamp"`
}

type actionPayload struct {
	SensorID string `json:"sensor_id"`
	Type     string `json:"type"`
	Value    int    `json:"value"`
}

// Dispatch posts the action to /api/v1/hubs/{hubId}/actions.
func (c *HTTPClient) Dispatch(ctx context.Context, action DeviceAction) error {
	if err := action.Validate(); err != nil {
		return err
	}
	body := actionRequest{
		HubID:        action.HubID,
		ScenarioName: action.ScenarioName,
		Action: actionPayload{
			SensorID: action.SensorID,
			Type:     action.ActionType,
			Value:    action.Value,
		},
		Timestamp: action.Timestamp.UTC(),
	}
	var token string
	if c.tokens != nil {
		signed, err := c.tokens.Sign(action.HubID)
		if err != nil {
			return fmt.Errorf("actuator: sign token: %w", err)
		}
		token = signed
	}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/hubs/"+url.PathEscape(action.HubID)+"/actions", token, body)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, token string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("actuator: http %d", resp.StatusCode)
	}
	return nil
}
