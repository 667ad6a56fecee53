// File: internal/infra/adapters/payment/webhook.go
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
)

var _ adapter.WebhookVerifier = (*SignatureVerifier)(nil)

// MaxWebhookBody caps how much of a webhook request is read.
const MaxWebhookBody = 64 << 10

const (
	eventCompleted      = "checkout.session.completed"
	eventAsyncSucceeded = "checkout.session.async_payment_succeeded"
	eventAsyncFailed    = "checkout.session.async_payment_failed"
	eventExpired        = "checkout.session.expired"
)

// SignatureVerifier authenticates Stripe-Signature headers and decodes checkout events.
type SignatureVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewSignatureVerifier(secret string, tolerance time.Duration) (*SignatureVerifier, error) {
	if secret == "" {
		return nil, errors.New("webhook secret empty")
	}
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &SignatureVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}, nil
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object checkoutSession `json:"object"`
	} `json:"data"`
}

// ParseEvent verifies the signature header, then maps the event onto an ObservedEvent.
// ok is false for authentic events of types we do not handle.
func (v *SignatureVerifier) ParseEvent(payload []byte, signatureHeader string) (*model.ObservedEvent, bool, error) {
	if len(payload) > MaxWebhookBody {
		return nil, false, fmt.Errorf("%w: payload too large", domain.ErrInvalidSignature)
	}
	if err := v.verify(payload, signatureHeader); err != nil {
		return nil, false, err
	}

	return decodeEvent(payload)
}

// decodeEvent maps a checkout event payload onto an ObservedEvent.
func decodeEvent(payload []byte) (*model.ObservedEvent, bool, error) {
	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, false, fmt.Errorf("%w: malformed payload: %w", domain.ErrInvalidSignature, err)
	}

	ev := evt.Data.Object.observed(model.SourceWebhook)
	ev.EventID = evt.ID
	switch evt.Type {
	case eventCompleted, eventAsyncSucceeded:
		if evt.Data.Object.PaymentStatus != "paid" {
			ev.State = model.SessionOpen
		}
	case eventAsyncFailed:
		ev.State = model.SessionFailed
	case eventExpired:
		ev.State = model.SessionExpired
	default:
		return &model.ObservedEvent{Source: model.SourceWebhook, EventID: evt.ID}, false, nil
	}
	return ev, true, nil
}

func (v *SignatureVerifier) verify(payload []byte, header string) error {
	ts, sigs := parseSignatureHeader(header)
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := Sign(v.secret, ts, payload)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, got) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

// Sign computes HMAC-SHA256(secret, ts + "." + payload).
func Sign(secret []byte, ts string, payload []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(payload)
	return h.Sum(nil)
}

// SignatureHeader builds a Stripe-Signature header value; used by the noop gateway and tests.
func SignatureHeader(secret string, at time.Time, payload []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(Sign([]byte(secret), ts, payload))
}

func parseSignatureHeader(header string) (ts string, sigs []string) {
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	return ts, sigs
}
