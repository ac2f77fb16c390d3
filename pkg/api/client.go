// Package api is the REST client for the emergency-response backend.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/models"
	http_utils "github.com/benmeehan/sos-agent/pkg/httpUtils"
)

const userAgent = "sos-agent/1"

// Client calls the backend on behalf of the signed-in user.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a Client. timeout bounds every request; zero means none.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ListDevices returns the devices owned by the token's user.
func (c *Client) ListDevices(ctx context.Context, token string) ([]models.Device, error) {
	var list models.DeviceList
	err := c.do(ctx, http.MethodGet, token, nil, &list, "api", "devices")
	if err != nil {
		return nil, err
	}
	return list.Devices, nil
}

// SubmitDeviceLocation records a location for one device.
func (c *Client) SubmitDeviceLocation(ctx context.Context, token, deviceID string, submission models.LocationSubmission) error {
	return c.do(ctx, http.MethodPost, token, submission, nil, "api", "devices", url.PathEscape(deviceID), "location")
}

// TriggerSOS raises an emergency alert at the given coordinates.
func (c *Client) TriggerSOS(ctx context.Context, token string, req models.SOSTriggerRequest) (*models.SOSResult, error) {
	var result models.SOSResult
	if err := c.do(ctx, http.MethodPost, token, req, &result, "api", "alerts", "sos"); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, token string, body, out any, segments ...string) error {
	requestID := uuid.NewString()
	endpoint := http_utils.JoinURL(c.baseURL, segments...)

	headers := map[string]string{
		"X-Request-ID": requestID,
		"User-Agent":   userAgent,
	}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	start := time.Now()
	err := http_utils.DoJSON(ctx, c.httpClient, method, endpoint, headers, body, out)

	event := c.logger.Debug()
	if err != nil {
		event = c.logger.Warn().Err(err)
	}
	event.Str("method", method).
		Str("url", endpoint).
		Str("request_id", requestID).
		Dur("duration", time.Since(start)).
		Msg("Backend request finished")
	return err
}

// ServerMessage returns the message the backend attached to a failed
// request, or "" when there was none.
func ServerMessage(err error) string {
	var statusErr *http_utils.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Message
	}
	return ""
}

// IsUnauthorized reports whether err is an authentication rejection.
func IsUnauthorized(err error) bool {
	var statusErr *http_utils.StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}
