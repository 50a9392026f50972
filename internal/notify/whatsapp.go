package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/kopi-pos/internal/events"
	"github.com/noah-isme/kopi-pos/internal/money"
	"github.com/noah-isme/kopi-pos/internal/resilience"
)

// ErrDelivery marks a message the WhatsApp gateway refused.
var ErrDelivery = errors.New("notify: whatsapp delivery failed")

// Message is the queued WhatsApp delivery.
type Message struct {
	To      string `json:"to"`
	Body    string `json:"body"`
	OrderID string `json:"orderId"`
	Topic   string `json:"topic"`
}

// Sender delivers a single WhatsApp message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// WhatsAppClient posts messages to an HTTP WhatsApp gateway.
type WhatsAppClient struct {
	BaseURL string
	Token   string
	HTTP    *resilience.HTTPClient
}

type gatewayRequest struct {
	Target  string `json:"target"`
	Message string `json:"message"`
}

// Send posts msg. Any non-2xx answer is an ErrDelivery.
func (c *WhatsAppClient) Send(ctx context.Context, msg Message) error {
	if c == nil || c.HTTP == nil || strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%w: client not configured", ErrDelivery)
	}
	ctx, span := otel.Tracer("notify.WhatsApp").Start(ctx, "WhatsApp.Send")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", msg.OrderID),
		attribute.String("event.topic", msg.Topic),
	)

	body, err := json.Marshal(gatewayRequest{Target: msg.To, Message: msg.Body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", c.Token)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}

// NormalizePhone converts local Indonesian numbers (08..., +62...) into the
// 62... form the gateway expects. It returns "" for anything that is not a
// plausible phone number.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "0"):
		digits = "62" + digits[1:]
	case strings.HasPrefix(digits, "8"):
		digits = "62" + digits
	}
	if len(digits) < 9 || len(digits) > 15 {
		return ""
	}
	return digits
}

// FormatMessage renders the customer text for an order event. ok is false
// when the topic has no customer-facing message.
func FormatMessage(topic string, p events.OrderPayload) (string, bool) {
	name := strings.TrimSpace(p.CustomerName)
	if name == "" {
		name = "Kak"
	}
	ref := shortRef(p.OrderID)
	switch topic {
	case events.TopicOrderPreparing:
		return fmt.Sprintf("Halo %s, pesanan #%s (%s) sedang disiapkan oleh barista kami.", name, ref, money.Rupiah(p.TotalAmount)), true
	case events.TopicOrderCompleted:
		return fmt.Sprintf("Terima kasih %s! Pesanan #%s sudah selesai. Sampai jumpa lagi.", name, ref), true
	}
	return "", false
}

func shortRef(orderID string) string {
	id := strings.ReplaceAll(orderID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}
