// Package providers implements the host capabilities node handlers call:
// AI completion, search, messaging, PDF export and calendars.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/lessonflow/internal/expressions"
	"github.com/rendis/lessonflow/pkg/schema"
)

const (
	defaultTimeout     = 60 * time.Second
	maxResponseBody    = 4 * 1024 * 1024
	vendorErrorQueries = `.error.message?, .error?, .description?, .message?`
)

// HTTPDoer is the subset of *http.Client the adapters use.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// client posts JSON and decodes JSON replies. jq queries pick values out of
// vendor replies so each vendor is described by data, not code.
type client struct {
	http HTTPDoer
	jq   *expressions.GoJQEngine
}

func newClient(doer HTTPDoer) *client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultTimeout}
	}
	return &client{http: doer, jq: expressions.NewGoJQEngine()}
}

// postJSON sends body to url and returns the decoded reply. Non-2xx replies
// become PROVIDER_ERROR carrying the vendor's own message when it has one.
// Errors never carry the request URL beyond its host: some vendors put the
// credential in the path.
func (c *client) postJSON(ctx context.Context, vendor, endpoint string, headers map[string]string, body any) (any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", vendor, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s: bad request url for %s", vendor, redactURL(endpoint))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cause := transportCause(err)
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s: request to %s failed: %s",
			vendor, redactURL(endpoint), cause.Error()).WithCause(cause)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s: read response: %s", vendor, err.Error()).WithCause(err)
	}

	var decoded any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = string(raw)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := c.vendorMessage(ctx, decoded)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s: %s", vendor, msg).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	return decoded, nil
}

// transportCause strips the *url.Error wrapper, which quotes the full URL.
func transportCause(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// redactURL keeps only scheme and host.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(invalid url)"
	}
	return u.Scheme + "://" + u.Host
}

func (c *client) vendorMessage(ctx context.Context, decoded any) string {
	switch v := decoded.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		msg, _ := c.jq.FirstString(ctx, vendorErrorQueries, v)
		return msg
	}
	return ""
}

// extract runs a jq query over a decoded reply and returns the first string.
func (c *client) extract(ctx context.Context, vendor, query string, decoded any) (string, error) {
	if decoded == nil {
		return "", nil
	}
	out, err := c.jq.FirstString(ctx, query, decoded)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider, "%s: unexpected response shape", vendor).WithCause(err)
	}
	return out, nil
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
