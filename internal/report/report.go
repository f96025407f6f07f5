// Package report delivers the collected inventory to the self-test service.
package report

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

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultTries         = 10
	DefaultRetryInterval = time.Minute
	defaultTimeout       = 30 * time.Second
)

// ErrCheckIn is wrapped by every error CheckIn returns once retries run out.
var ErrCheckIn = errors.New("check-in failed")

// Message is the check-in body.
type Message struct {
	Info any    `json:"info"`
	MAC  string `json:"mac"`
	IP   string `json:"ip"`
	ID   string `json:"id"`
}

type Config struct {
	BaseURL string
	// Tries is the total number of attempts.
	Tries int
	// RetryInterval caps the wait between attempts.
	RetryInterval time.Duration
	Timeout       time.Duration
}

// Client posts check-in messages.
type Client struct {
	baseURL  string
	tries    int
	interval time.Duration
	http     *http.Client
	log      zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid self-test base url %q", cfg.BaseURL)
	}

	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		tries:    cfg.Tries,
		interval: cfg.RetryInterval,
		http:     &http.Client{Timeout: cfg.Timeout},
		log:      log,
	}
	if c.tries <= 0 {
		c.tries = DefaultTries
	}
	if c.interval <= 0 {
		c.interval = DefaultRetryInterval
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = defaultTimeout
	}

	return c, nil
}

// URL is where a machine with the given id checks in.
func (c *Client) URL(id string) string {
	return fmt.Sprintf("%s/%s?set_checked_in=true", c.baseURL, url.PathEscape(id))
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.MaxInterval = c.interval
	if exp.InitialInterval > c.interval {
		exp.InitialInterval = c.interval
	}
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.tries-1)), ctx)
}

// CheckIn posts msg, retrying failed attempts. Any non-2xx answer counts as a
// failed attempt.
func (c *Client) CheckIn(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode check-in message")
	}
	target := c.URL(msg.ID)

	attempt := 0
	op := func() error {
		attempt++
		return c.post(ctx, target, body)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Error().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("check-in attempt failed")
	}

	c.log.Info().Str("url", target).Int("bytes", len(body)).Msg("checking in")
	if err := backoff.RetryNotify(op, c.newBackOff(ctx), notify); err != nil {
		return errors.Wrapf(ErrCheckIn, "%d attempts: %v", attempt, err)
	}

	c.log.Info().Int("attempts", attempt).Msg("checked in")
	return nil
}

func (c *Client) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "build check-in request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "post check-in")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("check-in returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
