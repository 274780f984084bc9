// Package influx writes "line protocol" data to InfluxDB.
package influx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/trace"
)

// We write our own InfluxDB client because the official one requires more memory to compile than
// the board has.

// Client sends lines to an InfluxDB v2 write endpoint.  A nil Client, or one without a Token, only
// logs the lines it would have sent.
type Client struct {
	// URL is the full write URL, including org and bucket.
	URL   string
	Token string
	HTTP  *http.Client

	l trace.EventLog
}

// New returns a client for url.  Lines are also logged to an x/net/trace event log named after
// the host.
func New(url, token string) *Client {
	host := url
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return &Client{URL: url, Token: token, l: trace.NewEventLog("destination", host)}
}

// Write sends body to InfluxDB.
func (c *Client) Write(ctx context.Context, body string) error {
	if c == nil {
		return nil
	}
	if c.l != nil {
		c.l.Printf("%s", body)
	}
	if c.Token == "" || c.URL == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", c.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Add("authorization", "Token "+c.Token)
	req.Header.Add("content-type", "text/plain")
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("make request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(res.Body)
		if c.l != nil {
			c.l.Errorf("unexpected status %v", res.StatusCode)
		}
		return fmt.Errorf("make request: unexpected status %v (%s): (body: %s)", res.StatusCode, res.Status, body)
	}
	return nil
}
