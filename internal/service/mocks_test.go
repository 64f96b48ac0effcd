package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/cache"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/service"

	"go.uber.org/zap"
)

// --- In-memory store ---

// memStore implements every store port in memory. Reads hand out copies so
// services see the same aliasing behaviour as with PostgREST.
type memStore struct {
	mu        sync.Mutex
	seq       int
	projects  map[string]domain.Project
	documents map[string]domain.Document
	types     []domain.DocumentType
	customers map[string]domain.StripeCustomer
	purchases []domain.Purchase
	events    map[string]domain.WebhookEvent
	emails    map[string]string

	createPurchaseErr error
	createDocumentErr error
	getCustomerErr    error
	// staleSwaps makes the next n SwapCustomer calls report a concurrent write.
	staleSwaps int
}

func newMemStore() *memStore {
	return &memStore{
		projects:  map[string]domain.Project{},
		documents: map[string]domain.Document{},
		customers: map[string]domain.StripeCustomer{},
		events:    map[string]domain.WebhookEvent{},
		emails:    map[string]string{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) addProject(p domain.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
}

func (m *memStore) addDocument(d domain.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = cloneDocument(d)
}

func (m *memStore) addCustomer(c domain.StripeCustomer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.UserID] = c
}

func (m *memStore) addPurchase(p domain.Purchase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purchases = append(m.purchases, p)
}

func (m *memStore) project(id string) domain.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.projects[id]
}

func (m *memStore) document(id string) domain.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneDocument(m.documents[id])
}

func (m *memStore) customer(userID string) domain.StripeCustomer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.customers[userID]
}

func (m *memStore) purchase(id string) domain.Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.ID == id {
			return p
		}
	}
	return domain.Purchase{}
}

func cloneDocument(d domain.Document) domain.Document {
	d.Content.Sections = append([]domain.Section(nil), d.Content.Sections...)
	return d
}

// ProjectStore

func (m *memStore) CreateProject(_ context.Context, userID string, in *domain.ProjectInput) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := domain.Project{
		ID:             m.nextID("proj"),
		UserID:         userID,
		BusinessName:   in.BusinessName,
		BusinessType:   in.BusinessType,
		TargetAudience: in.TargetAudience,
		Goals:          in.Goals,
		Budget:         in.Budget,
		Challenges:     in.Challenges,
		Description:    in.Description,
	}
	m.projects[p.ID] = p
	return &p, nil
}

func (m *memStore) ListProjects(_ context.Context, userID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Project
	for _, p := range m.projects {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetProject(_ context.Context, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "project", ID: projectID}
	}
	return &p, nil
}

func (m *memStore) UpdateProject(_ context.Context, projectID string, fields map[string]any) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "project", ID: projectID}
	}
	if v, ok := fields["business_name"].(string); ok {
		p.BusinessName = v
	}
	if v, ok := fields["goals"].(string); ok {
		p.Goals = v
	}
	m.projects[projectID] = p
	return &p, nil
}

func (m *memStore) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	return nil
}

func (m *memStore) UnlockProject(_ context.Context, projectID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return false, &domain.ErrNotFound{Resource: "project", ID: projectID}
	}
	if p.IsUnlocked {
		return false, nil
	}
	p.IsUnlocked = true
	m.projects[projectID] = p
	return true, nil
}

// DocumentStore

func (m *memStore) ListDocuments(_ context.Context, projectID string) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Document{}
	for _, d := range m.documents {
		if d.ProjectID == projectID {
			out = append(out, cloneDocument(d))
		}
	}
	return out, nil
}

func (m *memStore) GetDocument(_ context.Context, documentID string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "document", ID: documentID}
	}
	d = cloneDocument(d)
	return &d, nil
}

func (m *memStore) FindDocument(_ context.Context, projectID, docType string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.documents {
		if d.ProjectID == projectID && d.Type == docType {
			d = cloneDocument(d)
			return &d, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateDocument(_ context.Context, doc *domain.Document) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createDocumentErr != nil {
		return nil, m.createDocumentErr
	}
	d := cloneDocument(*doc)
	d.ID = m.nextID("doc")
	m.documents[d.ID] = d
	d = cloneDocument(d)
	return &d, nil
}

func (m *memStore) UpdateDocument(_ context.Context, documentID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[documentID]
	if !ok {
		return &domain.ErrNotFound{Resource: "document", ID: documentID}
	}
	for k, v := range fields {
		switch k {
		case "status":
			d.Status = v.(string)
		case "progress":
			d.Progress = v.(domain.Progress)
		case "version":
			d.Version = v.(int)
		case "content":
			d.Content = v.(domain.DocumentContent)
		case "error_message":
			if s, ok := v.(string); ok {
				d.ErrorMessage = s
			} else {
				d.ErrorMessage = ""
			}
		}
	}
	m.documents[documentID] = cloneDocument(d)
	return nil
}

// CatalogStore

func (m *memStore) ListDocumentTypes(_ context.Context) ([]domain.DocumentType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.DocumentType(nil), m.types...), nil
}

// BillingStore

func (m *memStore) GetCustomer(_ context.Context, userID string) (*domain.StripeCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getCustomerErr != nil {
		return nil, m.getCustomerErr
	}
	c, ok := m.customers[userID]
	if !ok {
		return nil, nil
	}
	c.PurchaseHistory = append([]string(nil), c.PurchaseHistory...)
	return &c, nil
}

func (m *memStore) CreateCustomer(_ context.Context, c *domain.StripeCustomer) (*domain.StripeCustomer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[c.UserID]; ok {
		return nil, &domain.ErrConflict{Message: "customer exists"}
	}
	m.customers[c.UserID] = *c
	out := *c
	return &out, nil
}

func (m *memStore) SwapCustomer(_ context.Context, userID string, expectedBalance int, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[userID]
	if m.staleSwaps > 0 {
		m.staleSwaps--
		return &domain.ErrStaleWrite{Resource: "stripe_customer", ID: userID}
	}
	if !ok || c.CreditBalance != expectedBalance {
		return &domain.ErrStaleWrite{Resource: "stripe_customer", ID: userID}
	}
	if v, ok := fields["credit_balance"].(int); ok {
		c.CreditBalance = v
	}
	if v, ok := fields["purchase_history"].([]string); ok {
		c.PurchaseHistory = v
	}
	m.customers[userID] = c
	return nil
}

func (m *memStore) CreatePurchase(_ context.Context, p *domain.Purchase) (*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createPurchaseErr != nil {
		return nil, m.createPurchaseErr
	}
	out := *p
	out.ID = m.nextID("pur")
	m.purchases = append(m.purchases, out)
	return &out, nil
}

func (m *memStore) GetPurchaseBySession(_ context.Context, sessionID string) (*domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.purchases {
		if p.StripeSessionID == sessionID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListPurchases(_ context.Context, userID string) ([]domain.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Purchase
	for _, p := range m.purchases {
		if p.UserID == userID {
			p.UsedForProjects = append([]string(nil), p.UsedForProjects...)
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePurchase(_ context.Context, purchaseID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.purchases {
		if m.purchases[i].ID == purchaseID {
			applyPurchaseFields(&m.purchases[i], fields)
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "purchase", ID: purchaseID}
}

func (m *memStore) SwapPurchaseUses(_ context.Context, purchaseID string, expectedUses int, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.purchases {
		if m.purchases[i].ID == purchaseID {
			if m.purchases[i].RemainingUses != expectedUses {
				return &domain.ErrStaleWrite{Resource: "purchase", ID: purchaseID}
			}
			applyPurchaseFields(&m.purchases[i], fields)
			return nil
		}
	}
	return &domain.ErrStaleWrite{Resource: "purchase", ID: purchaseID}
}

func applyPurchaseFields(p *domain.Purchase, fields map[string]any) {
	for k, v := range fields {
		switch k {
		case "status":
			p.Status = v.(string)
		case "remaining_uses":
			p.RemainingUses = v.(int)
		case "used_for_projects":
			p.UsedForProjects = v.([]string)
		case "amount_total":
			p.AmountTotal = v.(int64)
		case "currency":
			p.Currency = v.(string)
		}
	}
}

// WebhookEventStore

func (m *memStore) GetWebhookEvent(_ context.Context, eventID string) (*domain.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (m *memStore) RecordWebhookEvent(_ context.Context, ev *domain.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = *ev
	return nil
}

func (m *memStore) MarkWebhookEvent(_ context.Context, eventID, status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events[eventID]
	ev.ID = eventID
	ev.Status = status
	ev.Error = errMsg
	m.events[eventID] = ev
	return nil
}

// UserDirectory

func (m *memStore) GetUserEmail(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email, ok := m.emails[userID]
	if !ok {
		return "", &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	return email, nil
}

// --- LLM ---

type mockLLM struct {
	calls atomic.Int32
	// failOn makes the n-th call (1-based) fail.
	failOn int32
	err    error
	// block, when set, holds every call until it is closed or ctx ends.
	block chan struct{}

	mu       sync.Mutex
	requests []domain.CompletionRequest
}

func (m *mockLLM) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	n := m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, *req)
	m.mu.Unlock()

	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.err != nil && (m.failOn == 0 || m.failOn == n) {
		return nil, m.err
	}
	return &domain.CompletionResponse{
		Content: fmt.Sprintf("## Draft %d\n\n%s", n, firstLine(req.Prompt)),
		Model:   "gpt-4o-mini",
		Usage:   domain.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// --- Progress publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (p *recordingPublisher) PublishProgress(_ context.Context, ev *domain.ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
}

func (p *recordingPublisher) last() domain.ProgressEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return domain.ProgressEvent{}
	}
	return p.events[len(p.events)-1]
}

// --- Payments ---

type mockGateway struct {
	customerID string
	customers  int
	params     *domain.CheckoutSessionParams
	err        error
}

func (g *mockGateway) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.customers++
	return g.customerID, nil
}

func (g *mockGateway) CreateCheckoutSession(_ context.Context, params *domain.CheckoutSessionParams) (*domain.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.params = params
	return &domain.CheckoutSession{SessionID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

// mockVerifier accepts any payload whose signature is "valid" and returns
// the configured event.
type mockVerifier struct {
	event *domain.PaymentEvent
}

func (v *mockVerifier) ConstructEvent(_ []byte, signature string) (*domain.PaymentEvent, error) {
	if signature != "valid" {
		return nil, &domain.ErrUnauthorized{Message: "invalid webhook signature"}
	}
	return v.event, nil
}

// --- Fixtures ---

const (
	ownerID = "user-1"
	otherID = "user-2"
)

var owner = domain.Identity{UserID: ownerID, Email: "owner@example.com"}

func brandStrategyType() domain.DocumentType {
	return domain.DocumentType{
		ID:             "brand_strategy",
		Name:           "Brand Strategy",
		PromptTemplate: "Create a brand strategy for {{.BusinessName}}.",
		IsFree:         true,
		Sections: []domain.SectionSpec{
			{ID: "positioning", Title: "Positioning", Prompt: "Focus on {{.TargetAudience}}."},
			{ID: "voice", Title: "Brand Voice"},
		},
	}
}

func contentCalendarType() domain.DocumentType {
	return domain.DocumentType{
		ID:             "content_calendar",
		Name:           "Content Calendar",
		PromptTemplate: "Plan 30 days of content for {{.BusinessName}}.",
	}
}

func sampleProject(id, userID string, unlocked bool) domain.Project {
	return domain.Project{
		ID:             id,
		UserID:         userID,
		BusinessName:   "Crumb & Co",
		BusinessType:   "Bakery",
		TargetAudience: "young professionals",
		IsUnlocked:     unlocked,
	}
}

func newTypeCache() *cache.InMemory[[]domain.DocumentType] {
	return cache.New[[]domain.DocumentType](time.Minute)
}

func newCatalog(store *memStore) *service.CatalogService {
	return service.NewCatalogService(store, newTypeCache(), observability.NewMetrics(), zap.NewNop())
}
