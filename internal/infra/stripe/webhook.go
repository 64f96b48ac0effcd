package stripe

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marketingguide/mgai-api/internal/domain"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Verifier checks Stripe-Signature headers.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier for the endpoint's signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// ConstructEvent verifies the signature and decodes checkout session
// payloads. A bad signature is an ErrUnauthorized.
func (v *Verifier) ConstructEvent(payload []byte, signature string) (*domain.PaymentEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: fmt.Sprintf("invalid webhook signature: %v", err)}
	}

	out := &domain.PaymentEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data != nil {
		out.Raw = ev.Data.Raw
	}

	if strings.HasPrefix(out.Type, "checkout.session.") && len(out.Raw) > 0 {
		var s stripeapi.CheckoutSession
		if err := json.Unmarshal(out.Raw, &s); err != nil {
			return nil, &domain.ErrValidation{Field: "data.object", Message: "malformed checkout session"}
		}
		data := &domain.CheckoutSessionData{
			ID:            s.ID,
			PaymentStatus: string(s.PaymentStatus),
			AmountTotal:   s.AmountTotal,
			Currency:      string(s.Currency),
			Metadata:      s.Metadata,
		}
		if s.Customer != nil {
			data.CustomerID = s.Customer.ID
		}
		out.Session = data
	}
	return out, nil
}
