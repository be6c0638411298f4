package switchbot

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBaseURL is the SwitchBot cloud API endpoint
	DefaultBaseURL = "https://api.switch-bot.com"
	apiVersion     = "/v1.1"
	userAgent      = "PMA-SwitchBot-Integration/1.0"

	// DefaultTimeout bounds every HTTP request
	DefaultTimeout = 30 * time.Second
)

// Client talks to the SwitchBot v1.1 cloud API. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      devices.Credentials
	logger     *logrus.Logger

	now   func() time.Time
	nonce func() string
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL sets a custom base URL for the API
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a client for one account
func NewClient(creds devices.Credentials, logger *logrus.Logger, opts ...Option) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    DefaultBaseURL,
		creds:      creds,
		logger:     logger,
		now:        time.Now,
		nonce:      func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(c)
	}

	if _, err := url.Parse(c.baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
	}
	return c, nil
}

// Factory returns a devices.APIFactory producing clients with the given options
func Factory(logger *logrus.Logger, opts ...Option) devices.APIFactory {
	return func(creds devices.Credentials) (devices.API, error) {
		return NewClient(creds, logger, opts...)
	}
}

// ListDevices returns physical devices followed by infrared remotes
func (c *Client) ListDevices(ctx context.Context) ([]devices.Identity, error) {
	var body DeviceListBody
	if err := c.do(ctx, http.MethodGet, "/devices", nil, &body); err != nil {
		return nil, err
	}

	out := make([]devices.Identity, 0, len(body.DeviceList)+len(body.InfraredRemoteList))
	for _, d := range body.DeviceList {
		identity := d.Identity()
		if identity.Kind == devices.KindOther {
			c.logger.WithFields(logrus.Fields{
				"device_id":   d.DeviceID,
				"device_type": d.DeviceType,
			}).Debug("Unrecognised SwitchBot device type")
		}
		out = append(out, identity)
	}
	for _, r := range body.InfraredRemoteList {
		out = append(out, r.Identity())
	}

	c.logger.WithFields(logrus.Fields{
		"devices": len(body.DeviceList),
		"remotes": len(body.InfraredRemoteList),
	}).Debug("Listed SwitchBot devices")
	return out, nil
}

// DeviceStatus returns the raw status body of a device
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) (map[string]any, error) {
	var status map[string]any
	if err := c.do(ctx, http.MethodGet, "/devices/"+url.PathEscape(deviceID)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return status, nil
}

// SendCommand posts a command to a device
func (c *Client) SendCommand(ctx context.Context, deviceID string, cmd devices.Command) error {
	cmd = cmd.Normalize()
	req := CommandRequest{
		Command:     cmd.Name,
		Parameter:   cmd.Parameters,
		CommandType: cmd.Type,
	}
	return c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/commands", req, nil)
}

// sign computes the request signature headers
func (c *Client) sign() (t, nonce, signature string) {
	t = strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce = c.nonce()

	mac := hmac.New(sha256.New, []byte(c.creds.Secret))
	mac.Write([]byte(c.creds.Token + t + nonce))
	signature = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return t, nonce, signature
}

// do performs a signed request and decodes the envelope body into out
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiVersion+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	t, nonce, signature := c.sign()
	req.Header.Set("Authorization", c.creds.Token)
	req.Header.Set("sign", signature)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf8")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", devices.ErrConnectionFailed, ctx.Err())
		}
		return fmt.Errorf("%w: %v", devices.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", devices.ErrConnectionFailed, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("SwitchBot API request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpError(resp.StatusCode, respBody)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", devices.ErrMalformedResponse, err)
	}
	if env.StatusCode != statusSuccess {
		return envelopeError(env)
	}

	if out == nil || len(env.Body) == 0 || string(env.Body) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("%w: decode body: %v", devices.ErrMalformedResponse, err)
	}
	return nil
}
