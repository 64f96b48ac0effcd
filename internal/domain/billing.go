package domain

import (
	"encoding/json"
	"time"
)

// ============================================================
// Products
// ============================================================

// Product ids.
const (
	ProductSingleProject = "single_project"
	ProductAgencyPack    = "agency_pack"
)

// Product is an item sold through Stripe Checkout.
type Product struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PriceID        string `json:"-"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	Credits        int    `json:"credits"`
	UnlocksProject bool   `json:"unlocks_project"`
}

// ============================================================
// Stripe customers & purchases
// ============================================================

// StripeCustomer maps a user to a Stripe customer and holds the credit balance.
type StripeCustomer struct {
	UserID           string    `json:"user_id"`
	StripeCustomerID string    `json:"stripe_customer_id"`
	Email            string    `json:"email,omitempty"`
	CreditBalance    int       `json:"credit_balance"`
	PurchaseHistory  []string  `json:"purchase_history"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Purchase statuses.
const (
	PurchasePending   = "pending"
	PurchaseCompleted = "completed"
	PurchaseExpired   = "expired"
	PurchaseFailed    = "failed"
)

// Purchase records one checkout.
type Purchase struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	ProductID       string    `json:"product_id"`
	ProjectID       string    `json:"project_id,omitempty"`
	Status          string    `json:"status"`
	AmountTotal     int64     `json:"amount_total"`
	Currency        string    `json:"currency,omitempty"`
	RemainingUses   int       `json:"remaining_uses"`
	UsedForProjects []string  `json:"used_for_projects"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreditBalance is the response of GET /api/payments/credits.
type CreditBalance struct {
	CreditBalance int        `json:"credit_balance"`
	Purchases     []Purchase `json:"purchases"`
}

// CheckoutRequest is the payload of POST /api/create-checkout-session.
type CheckoutRequest struct {
	ProductID string `json:"productId" validate:"required,oneof=single_project agency_pack"`
	ProjectID string `json:"projectId,omitempty"`
}

// CheckoutSession is returned after a Stripe Checkout Session is created.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CheckoutSessionParams is what the service asks the payment gateway to create.
type CheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// ApplyCreditRequest is the payload of POST /api/payments/apply-credit.
type ApplyCreditRequest struct {
	ProjectID string `json:"projectId" validate:"required"`
}

// ApplyCreditResult reports the outcome of applying a credit.
type ApplyCreditResult struct {
	ProjectID        string `json:"projectId"`
	IsUnlocked       bool   `json:"isUnlocked"`
	CreditConsumed   bool   `json:"creditConsumed"`
	RemainingCredits int    `json:"remainingCredits"`
	PurchaseID       string `json:"purchaseId,omitempty"`
}

// ============================================================
// Webhook events
// ============================================================

// Webhook event statuses.
const (
	WebhookReceived  = "received"
	WebhookProcessed = "processed"
	WebhookFailed    = "failed"
	WebhookIgnored   = "ignored"
)

// WebhookEvent is a Stripe event as recorded in webhook_events.
type WebhookEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// PaymentEvent is a verified webhook event from the payment provider.
type PaymentEvent struct {
	ID      string
	Type    string
	Raw     json.RawMessage
	Session *CheckoutSessionData
}

// CheckoutSessionData is the subset of a checkout session the ledger needs.
type CheckoutSessionData struct {
	ID            string
	CustomerID    string
	PaymentStatus string
	AmountTotal   int64
	Currency      string
	Metadata      map[string]string
}
