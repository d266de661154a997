package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tutorias-backend-go/internal/services"

	"go.llib.dev/frameless/pkg/httpkit"
	"go.llib.dev/frameless/pkg/resilience"
)

// Client is the shared plumbing for calling another service's JSON API.
// Retryable calls go through HTTP, whose transport repeats transport
// timeouts and temporary 5xx answers with exponential backoff. Once is used
// for calls that must not be repeated.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Once    *http.Client
}

func New(baseURL string, attempts int, backoff time.Duration) Client {
	if attempts <= 0 {
		attempts = 1
	}
	return Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
			Transport: httpkit.RetryRoundTripper{
				Transport: http.DefaultTransport,
				RetryStrategy: resilience.ExponentialBackoff{
					Delay:    backoff,
					Attempts: attempts,
				},
			},
		},
		Once: &http.Client{Timeout: 10 * time.Second},
	}
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c Client) do(ctx context.Context, method, path string, in, out any, retryable bool) error {
	var payload []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = encoded
	}
	httpClient := c.Once
	if retryable {
		httpClient = c.HTTP
	}
	status, body, err := c.roundTrip(ctx, httpClient, method, path, payload)
	if err != nil {
		return services.ErrServiceUnavailable(fmt.Sprintf("%s %s: %v", method, path, err))
	}
	if status >= 400 {
		return decodeError(status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c Client) roundTrip(ctx context.Context, httpClient *http.Client, method, path string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// decodeError rebuilds the taxonomy error another service reported.
func decodeError(status int, body []byte) error {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Kind != "" {
		se := services.ServiceError{Kind: services.Kind(parsed.Kind), Status: status, Message: parsed.Message}
		return se
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusNotFound:
		return services.ErrNotFound(msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return services.ErrServiceUnavailable(msg)
	}
	return errors.New(msg)
}
