// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// ProjectStore persists projects.
type ProjectStore interface {
	CreateProject(ctx context.Context, userID string, in *domain.ProjectInput) (*domain.Project, error)
	ListProjects(ctx context.Context, userID string) ([]domain.Project, error)
	// GetProject returns ErrNotFound when the row does not exist.
	GetProject(ctx context.Context, projectID string) (*domain.Project, error)
	UpdateProject(ctx context.Context, projectID string, fields map[string]any) (*domain.Project, error)
	DeleteProject(ctx context.Context, projectID string) error
	// UnlockProject flips is_unlocked to true. It reports false when the
	// project was already unlocked.
	UnlockProject(ctx context.Context, projectID string) (bool, error)
}

// DocumentStore persists generated documents.
type DocumentStore interface {
	ListDocuments(ctx context.Context, projectID string) ([]domain.Document, error)
	// GetDocument returns ErrNotFound when the row does not exist.
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	// FindDocument returns nil, nil when the project has no document of that type.
	FindDocument(ctx context.Context, projectID, docType string) (*domain.Document, error)
	CreateDocument(ctx context.Context, doc *domain.Document) (*domain.Document, error)
	UpdateDocument(ctx context.Context, documentID string, fields map[string]any) error
}

// CatalogStore reads the document_types table.
type CatalogStore interface {
	ListDocumentTypes(ctx context.Context) ([]domain.DocumentType, error)
}

// BillingStore persists Stripe customers and purchases.
// Writes that guard money use compare-and-swap and return ErrStaleWrite
// when the guarded value changed underneath.
type BillingStore interface {
	// GetCustomer returns nil, nil when the user has no customer row.
	GetCustomer(ctx context.Context, userID string) (*domain.StripeCustomer, error)
	CreateCustomer(ctx context.Context, c *domain.StripeCustomer) (*domain.StripeCustomer, error)
	// SwapCustomer patches the customer only if credit_balance still equals expectedBalance.
	SwapCustomer(ctx context.Context, userID string, expectedBalance int, fields map[string]any) error

	CreatePurchase(ctx context.Context, p *domain.Purchase) (*domain.Purchase, error)
	// GetPurchaseBySession returns nil, nil when no purchase matches.
	GetPurchaseBySession(ctx context.Context, sessionID string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, userID string) ([]domain.Purchase, error)
	UpdatePurchase(ctx context.Context, purchaseID string, fields map[string]any) error
	// SwapPurchaseUses patches the purchase only if remaining_uses still equals expectedUses.
	SwapPurchaseUses(ctx context.Context, purchaseID string, expectedUses int, fields map[string]any) error
}

// WebhookEventStore persists received webhook events.
type WebhookEventStore interface {
	// GetWebhookEvent returns nil, nil when the event was never recorded.
	GetWebhookEvent(ctx context.Context, eventID string) (*domain.WebhookEvent, error)
	RecordWebhookEvent(ctx context.Context, ev *domain.WebhookEvent) error
	MarkWebhookEvent(ctx context.Context, eventID, status, errMsg string) error
}

// CreditLedger applies and grants credits atomically.
type CreditLedger interface {
	// ApplyCredit consumes one credit and unlocks the project in one unit of work.
	ApplyCredit(ctx context.Context, userID, projectID string) (*domain.ApplyCreditResult, error)
	// GrantCredits adds credits to the user's balance and records purchaseID in
	// the purchase history. It returns the new balance.
	GrantCredits(ctx context.Context, userID, purchaseID string, credits int) (int, error)
}

// UserDirectory resolves auth users.
type UserDirectory interface {
	GetUserEmail(ctx context.Context, userID string) (string, error)
}

// ContentGenerator calls the LLM.
type ContentGenerator interface {
	Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error)
}

// PaymentGateway creates Stripe objects.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, params *domain.CheckoutSessionParams) (*domain.CheckoutSession, error)
}

// WebhookVerifier authenticates and decodes webhook payloads.
type WebhookVerifier interface {
	ConstructEvent(payload []byte, signature string) (*domain.PaymentEvent, error)
}

// ProgressPublisher fans document progress out to realtime subscribers.
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, ev *domain.ProgressEvent)
}

// ExportArchive stores rendered exports and hands out temporary links.
type ExportArchive interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
