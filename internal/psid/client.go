// Package psid looks up the vendor PSID of a drive from the self-test
// service: GET {base}/sed/{serial}/psid.
package psid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tinkerbell/hook/internal/cache"
)

const (
	defaultRetries = 3
	defaultTimeout = 10 * time.Second
	maxBodySize    = 64 << 10
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Retries is the number of retries after the first attempt.
	Retries int
	Timeout time.Duration
	// RetryWaitMin and RetryWaitMax bound the wait between attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client fetches PSIDs. Successful lookups are cached; PSIDs are printed on
// the drive label and do not change.
type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client
	cache   *cache.Cache[string]
	log     zerolog.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Wrap(ErrConfig, "no base url")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Wrapf(ErrConfig, "invalid base url %q", cfg.BaseURL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Retries
	if cfg.Retries == 0 {
		rc.RetryMax = defaultRetries
	}
	if cfg.Retries < 0 {
		rc.RetryMax = 0
	}
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	if cfg.Timeout == 0 {
		rc.HTTPClient.Timeout = defaultTimeout
	}
	rc.Logger = leveledLogger{log: log}

	return &Client{
		baseURL: base,
		http:    rc,
		cache:   cache.New[string](),
		log:     log,
	}, nil
}

// FetchSecret returns the PSID for serial. The error wraps ErrNoSecret when
// the authority has none, and ErrAuthorityUnreachable when the request or
// its response could not be handled.
func (c *Client) FetchSecret(ctx context.Context, serial string) (string, error) {
	if v, ok := c.cache.Get(serial); ok {
		return v, nil
	}

	psid, err := c.fetch(ctx, serial)
	switch {
	case errors.Is(err, ErrNoSecret):
		c.log.Warn().Str("serial", serial).Err(err).Msg("no psid registered for device")
		return "", err
	case err != nil:
		c.log.Error().Str("serial", serial).Err(err).Msg("psid lookup failed")
		return "", err
	}

	c.cache.Cleanup()
	c.cache.Set(serial, psid, cache.TTLStatic)
	return psid, nil
}

func (c *Client) endpoint(serial string) string {
	u := *c.baseURL
	raw := strings.TrimRight(u.EscapedPath(), "/") + "/sed/" + url.PathEscape(serial) + "/psid"
	if p, err := url.PathUnescape(raw); err == nil {
		u.Path = p
		u.RawPath = raw
	}
	return u.String()
}

func (c *Client) fetch(ctx context.Context, serial string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(serial), nil)
	if err != nil {
		return "", errors.Wrap(ErrAuthorityUnreachable, err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(ErrAuthorityUnreachable, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", errors.Wrap(ErrAuthorityUnreachable, "read response: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Wrapf(ErrNoSecret, "serial %s: status %d", serial, resp.StatusCode)
	}

	psid, err := decodePSID(body)
	if err != nil {
		return "", errors.Wrapf(ErrAuthorityUnreachable, "serial %s: %v", serial, err)
	}
	if psid == "" {
		return "", errors.Wrapf(ErrNoSecret, "serial %s: empty psid", serial)
	}

	return psid, nil
}

// decodePSID accepts a JSON string ("ABC...") or an object {"psid": "ABC..."}.
func decodePSID(body []byte) (string, error) {
	var s string
	if err := json.Unmarshal(body, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var obj struct {
		PSID string `json:"psid"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", errors.Wrap(err, "decode psid")
	}
	return strings.TrimSpace(obj.PSID), nil
}

// leveledLogger routes retryablehttp's logging through zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Trace().Fields(kv).Msg(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg(msg) }
