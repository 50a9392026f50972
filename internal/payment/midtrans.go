package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Signature computes the gateway signature for a notification:
// hex(SHA-512(order_id + status_code + gross_amount + server_key)).
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// Verifier checks notification authenticity against the merchant server key.
type Verifier struct {
	ServerKey string
}

// Verify reports whether the notification carries a valid signature. The
// comparison runs in constant time. An empty server key never verifies.
func (v Verifier) Verify(n Notification) bool {
	key := strings.TrimSpace(v.ServerKey)
	provided := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if key == "" || provided == "" {
		return false
	}
	expected := Signature(n.OrderID, n.StatusCode, n.GrossAmount, key)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Outcome is the order-level meaning of a gateway status pair.
type Outcome int

const (
	// OutcomeNone leaves the order where it is.
	OutcomeNone Outcome = iota
	// OutcomePaid confirms funds were captured.
	OutcomePaid
	// OutcomeFailed marks the payment as definitively unsuccessful.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePaid:
		return "paid"
	case OutcomeFailed:
		return "failed"
	}
	return "none"
}

// Resolve maps transaction_status and fraud_status to an Outcome.
//
//	settlement/capture + accept (or no fraud verdict) -> paid
//	settlement/capture + challenge                    -> none
//	settlement/capture + deny                         -> failed
//	cancel/deny/expire/failure                        -> failed
//	pending and anything else                         -> none
func Resolve(transactionStatus, fraudStatus string) Outcome {
	fraud := strings.ToLower(strings.TrimSpace(fraudStatus))
	switch strings.ToLower(strings.TrimSpace(transactionStatus)) {
	case "settlement", "capture":
		switch fraud {
		case "", "accept":
			return OutcomePaid
		case "deny":
			return OutcomeFailed
		default:
			return OutcomeNone
		}
	case "cancel", "deny", "expire", "failure":
		return OutcomeFailed
	}
	return OutcomeNone
}
