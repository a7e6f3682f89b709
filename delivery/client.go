// Package delivery ships slot snapshots to the remote endpoint as a single
// JSON POST. It never retries; the flush scheduler owns retry timing.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/globalworming/low-tech-ai-pocs/slots"
	"github.com/globalworming/low-tech-ai-pocs/telemetry"
)

const maxErrorBody = 512

// Payload is the JSON body POSTed to the endpoint.
type Payload struct {
	Timestamp  string            `json:"timestamp"`
	P1Messages map[string]string `json:"p1_messages"`
	P2Messages map[string]string `json:"p2_messages"`
}

// BuildPayload renders snap as a Payload stamped with at (RFC 3339, UTC).
// Empty slots encode as {} rather than null.
func BuildPayload(snap slots.Snapshot, at time.Time) Payload {
	p := Payload{
		Timestamp:  at.UTC().Format(time.RFC3339Nano),
		P1Messages: snap.P1,
		P2Messages: snap.P2,
	}
	if p.P1Messages == nil {
		p.P1Messages = map[string]string{}
	}
	if p.P2Messages == nil {
		p.P2Messages = map[string]string{}
	}
	return p
}

// Client posts snapshots to URL.
type Client struct {
	URL        string
	HTTPClient *http.Client
	// Timeout bounds a single Deliver call when the caller's context has no
	// earlier deadline. Zero means no extra bound.
	Timeout time.Duration

	now    func() time.Time
	encode func(any) ([]byte, error)
}

// NewClient returns a client for url with the given per-call timeout.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{URL: url, Timeout: timeout}
}

// Deliver sends snap in one POST stamped with the time the snapshot was
// taken. Any 2xx response is success; everything else is returned as *Error.
func (c *Client) Deliver(ctx context.Context, snap slots.Snapshot) error {
	ctx, span := telemetry.StartSpan(ctx, "delivery", "deliver", telemetry.SlotAttrs(len(snap.P1), len(snap.P2))...)
	defer span.End()

	err := c.deliver(ctx, snap)
	if err != nil {
		span.SetAttributes(telemetry.AttrFailureKind.String(string(KindOf(err))))
		telemetry.RecordError(span, err)
		telemetry.IncDeliveryFailure(string(KindOf(err)))
		return err
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func (c *Client) deliver(ctx context.Context, snap slots.Snapshot) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	now, encode := c.now, c.encode
	if now == nil {
		now = time.Now
	}
	if encode == nil {
		encode = json.Marshal
	}

	at := snap.Taken
	if at.IsZero() {
		at = now()
	}
	body, err := encode(BuildPayload(snap, at))
	if err != nil {
		return &Error{Kind: KindSerialization, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindTransport, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if corr := telemetry.GetCorrelation(ctx); corr != "" {
		req.Header.Set("X-Correlation-ID", corr)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	var resp *http.Response
	telemetry.TimeFunc(telemetry.DeliveryDuration, func() {
		resp, err = hc.Do(req)
	})
	if err != nil {
		if isTimeout(err) {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindTransport, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "delivery"))
		}
	}()

	telemetry.AnnotateSpan(ctx, telemetry.AttrStatusCode.Int(resp.StatusCode))
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindStatus, StatusCode: resp.StatusCode, Body: string(b)}
	}
	telemetry.LoggerWithCorr(ctx).Info("delivery accepted",
		slog.String("component", "delivery"),
		slog.Int("status", resp.StatusCode),
		slog.String("response", string(b)),
	)
	return nil
}
