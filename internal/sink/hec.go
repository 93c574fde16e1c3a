package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sigil-systems/ingestord/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	hecConnectTimeout = 5 * time.Second
	hecReadTimeout    = 30 * time.Second
	hecMaxIdleConns   = 4
)

// HECSink delivers batches to an HTTP Event Collector endpoint via
// token-authenticated POST, one CanonicalLog JSON object per line.
type HECSink struct {
	url    string
	token  string
	client *http.Client
}

// NewHECSink builds an HEC sink. Connections are pooled and capped at
// four concurrent per endpoint, matching the Folder sink's one-file-
// handle-per-write resource bound.
func NewHECSink(target model.HECTarget) *HECSink {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: hecConnectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: hecMaxIdleConns,
		MaxConnsPerHost:     hecMaxIdleConns,
		IdleConnTimeout:     90 * time.Second,
	}
	if !target.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &HECSink{
		url:   target.URL,
		token: target.Token,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   hecReadTimeout,
		},
	}
}

// Deliver POSTs batch as newline-concatenated CanonicalLog JSON. A 2xx
// response indicates durable acceptance by the collector. Non-2xx and
// network errors are classified per §7: 408/429/5xx and transport
// errors are transient, all other 4xx are permanent.
func (h *HECSink) Deliver(ctx context.Context, batch []model.CanonicalLog) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := model.MarshalNDJSON(batch)
	if err != nil {
		return Permanent(fmt.Errorf("marshal batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build hec request: %w", err))
	}
	req.Header.Set("Authorization", "Splunk "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("hec post: %w", err))
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return Transient(fmt.Errorf("hec responded %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return Transient(fmt.Errorf("hec responded %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return Permanent(fmt.Errorf("hec responded %d", resp.StatusCode))
	default:
		return Transient(fmt.Errorf("hec responded unexpected status %d", resp.StatusCode))
	}
}

// Close idles out pooled connections.
func (h *HECSink) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
