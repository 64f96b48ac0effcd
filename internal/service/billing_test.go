package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"
	"github.com/marketingguide/mgai-api/internal/infra/observability"
	"github.com/marketingguide/mgai-api/internal/service"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testProducts() *service.Products {
	return service.NewProducts(config.StripeConfig{
		SingleProjectPrice: "price_single",
		AgencyPackPrice:    "price_agency",
		SingleProjectCents: 2900,
		AgencyPackCents:    19900,
		Currency:           "USD",
	})
}

// ============================================================
// Checkout
// ============================================================

func newCheckout(store *memStore, gw *mockGateway) *service.CheckoutService {
	return service.NewCheckoutService(testProducts(), store, store, store, gw, "https://app.example.com/", zap.NewNop())
}

func TestCreateCheckoutSession_SingleProject(t *testing.T) {
	store := newMemStore()
	store.addProject(sampleProject("proj-1", ownerID, false))
	gw := &mockGateway{customerID: "cus_new"}
	svc := newCheckout(store, gw)

	sess, err := svc.CreateCheckoutSession(context.Background(), owner, &domain.CheckoutRequest{
		ProductID: domain.ProductSingleProject,
		ProjectID: "proj-1",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sess.SessionID != "cs_test_1" {
		t.Errorf("unexpected session id %s", sess.SessionID)
	}

	if gw.customers != 1 || store.customer(ownerID).StripeCustomerID != "cus_new" {
		t.Error("expected a Stripe customer to be created and stored")
	}
	if gw.params.PriceID != "price_single" || gw.params.CustomerID != "cus_new" {
		t.Errorf("unexpected checkout params: %+v", gw.params)
	}
	if gw.params.Metadata["userId"] != ownerID || gw.params.Metadata["projectId"] != "proj-1" {
		t.Errorf("unexpected metadata: %v", gw.params.Metadata)
	}
	if gw.params.SuccessURL != "https://app.example.com/payment/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("unexpected success url %s", gw.params.SuccessURL)
	}

	p, _ := store.GetPurchaseBySession(context.Background(), "cs_test_1")
	if p == nil || p.Status != domain.PurchasePending || p.AmountTotal != 2900 || p.Currency != "usd" {
		t.Errorf("expected a pending purchase, got %+v", p)
	}
}

func TestCreateCheckoutSession_ReusesCustomer(t *testing.T) {
	store := newMemStore()
	store.addCustomer(domain.StripeCustomer{UserID: ownerID, StripeCustomerID: "cus_existing"})
	gw := &mockGateway{customerID: "cus_new"}
	svc := newCheckout(store, gw)

	if _, err := svc.CreateCheckoutSession(context.Background(), owner, &domain.CheckoutRequest{ProductID: domain.ProductAgencyPack}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if gw.customers != 0 {
		t.Error("expected the existing customer to be reused")
	}
	if gw.params.CustomerID != "cus_existing" {
		t.Errorf("expected cus_existing, got %s", gw.params.CustomerID)
	}
}

func TestCreateCheckoutSession_LooksUpEmail(t *testing.T) {
	store := newMemStore()
	store.emails[ownerID] = "owner@example.com"
	gw := &mockGateway{customerID: "cus_new"}
	svc := newCheckout(store, gw)

	_, err := svc.CreateCheckoutSession(context.Background(), domain.Identity{UserID: ownerID}, &domain.CheckoutRequest{ProductID: domain.ProductAgencyPack})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := store.customer(ownerID).Email; got != "owner@example.com" {
		t.Errorf("expected email from the auth directory, got %q", got)
	}
}

func TestCreateCheckoutSession_PurchaseWriteFailureStillReturnsSession(t *testing.T) {
	store := newMemStore()
	store.createPurchaseErr = errors.New("postgrest down")
	svc := newCheckout(store, &mockGateway{customerID: "cus_new"})

	sess, err := svc.CreateCheckoutSession(context.Background(), owner, &domain.CheckoutRequest{ProductID: domain.ProductAgencyPack})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sess.URL == "" {
		t.Error("expected a checkout url")
	}
}

func TestCreateCheckoutSession_Errors(t *testing.T) {
	tests := []struct {
		name  string
		id    domain.Identity
		req   domain.CheckoutRequest
		check func(error) bool
	}{
		{
			name:  "unknown product",
			id:    owner,
			req:   domain.CheckoutRequest{ProductID: "gold"},
			check: func(err error) bool { var e *domain.ErrValidation; return errors.As(err, &e) },
		},
		{
			name:  "single project without project",
			id:    owner,
			req:   domain.CheckoutRequest{ProductID: domain.ProductSingleProject},
			check: func(err error) bool { var e *domain.ErrValidation; return errors.As(err, &e) },
		},
		{
			name:  "already unlocked",
			id:    owner,
			req:   domain.CheckoutRequest{ProductID: domain.ProductSingleProject, ProjectID: "proj-open"},
			check: func(err error) bool { var e *domain.ErrConflict; return errors.As(err, &e) },
		},
		{
			name:  "someone else's project",
			id:    domain.Identity{UserID: otherID},
			req:   domain.CheckoutRequest{ProductID: domain.ProductSingleProject, ProjectID: "proj-1"},
			check: func(err error) bool { var e *domain.ErrNotFound; return errors.As(err, &e) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.addProject(sampleProject("proj-1", ownerID, false))
			store.addProject(sampleProject("proj-open", ownerID, true))
			gw := &mockGateway{customerID: "cus_new"}

			_, err := newCheckout(store, gw).CreateCheckoutSession(context.Background(), tt.id, &tt.req)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			if gw.params != nil {
				t.Error("no checkout session should be created")
			}
		})
	}
}

func TestGetSessionStatus_Ownership(t *testing.T) {
	store := newMemStore()
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", Status: domain.PurchaseCompleted})
	svc := newCheckout(store, &mockGateway{})

	p, err := svc.GetSessionStatus(context.Background(), owner, "cs_1")
	if err != nil || p.Status != domain.PurchaseCompleted {
		t.Fatalf("expected completed purchase, got %+v, %v", p, err)
	}

	_, err = svc.GetSessionStatus(context.Background(), domain.Identity{UserID: otherID}, "cs_1")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}

// ============================================================
// Webhook
// ============================================================

func checkoutEvent(eventID, eventType, productID, projectID string) *domain.PaymentEvent {
	meta := map[string]string{"userId": ownerID, "productId": productID}
	if projectID != "" {
		meta["projectId"] = projectID
	}
	return &domain.PaymentEvent{
		ID:   eventID,
		Type: eventType,
		Session: &domain.CheckoutSessionData{
			ID:            "cs_1",
			CustomerID:    "cus_1",
			PaymentStatus: "paid",
			AmountTotal:   19900,
			Currency:      "usd",
			Metadata:      meta,
		},
	}
}

func newWebhook(store *memStore, ev *domain.PaymentEvent) *service.WebhookService {
	ledger := service.NewOptimisticLedger(store, store, zap.NewNop())
	return service.NewWebhookService(&mockVerifier{event: ev}, store, store, store, ledger, testProducts(), observability.NewMetrics(), zap.NewNop())
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	store := newMemStore()
	err := newWebhook(store, nil).HandleWebhook(context.Background(), []byte(`{}`), "forged")

	var ue *domain.ErrUnauthorized
	if !errors.As(err, &ue) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHandleWebhook_AgencyPackGrantsCredits(t *testing.T) {
	store := newMemStore()
	store.addCustomer(domain.StripeCustomer{UserID: ownerID, StripeCustomerID: "cus_1", CreditBalance: 1})
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", ProductID: domain.ProductAgencyPack, Status: domain.PurchasePending})
	svc := newWebhook(store, checkoutEvent("evt_1", service.EventCheckoutCompleted, domain.ProductAgencyPack, ""))

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := store.customer(ownerID).CreditBalance; got != 11 {
		t.Errorf("expected balance 11, got %d", got)
	}
	p := store.purchase("pur-1")
	if p.Status != domain.PurchaseCompleted || p.RemainingUses != 10 {
		t.Errorf("unexpected purchase: %+v", p)
	}
	if ev := store.events["evt_1"]; ev.Status != domain.WebhookProcessed {
		t.Errorf("expected event processed, got %q", ev.Status)
	}

	// Redelivery is acknowledged without granting again.
	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"); err != nil {
		t.Fatalf("redelivery: expected no error, got %v", err)
	}
	if got := store.customer(ownerID).CreditBalance; got != 11 {
		t.Errorf("redelivery changed balance to %d", got)
	}
}

func TestHandleWebhook_RetryAfterFailureDoesNotDoubleGrant(t *testing.T) {
	store := newMemStore()
	store.addCustomer(domain.StripeCustomer{UserID: ownerID, CreditBalance: 0, PurchaseHistory: []string{"pur-1"}})
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", ProductID: domain.ProductAgencyPack, Status: domain.PurchasePending})
	store.events["evt_1"] = domain.WebhookEvent{ID: "evt_1", Status: domain.WebhookFailed}
	svc := newWebhook(store, checkoutEvent("evt_1", service.EventCheckoutCompleted, domain.ProductAgencyPack, ""))

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := store.customer(ownerID).CreditBalance; got != 0 {
		t.Errorf("credits for pur-1 were already granted, balance became %d", got)
	}
	if p := store.purchase("pur-1"); p.Status != domain.PurchaseCompleted {
		t.Errorf("expected purchase completed, got %s", p.Status)
	}
}

func TestHandleWebhook_SingleProjectUnlocks(t *testing.T) {
	store := newMemStore()
	store.addProject(sampleProject("proj-1", ownerID, false))
	svc := newWebhook(store, checkoutEvent("evt_2", service.EventCheckoutCompleted, domain.ProductSingleProject, "proj-1"))

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !store.project("proj-1").IsUnlocked {
		t.Error("expected project unlocked")
	}
	// The pending row was missing and is created by the webhook.
	p, _ := store.GetPurchaseBySession(context.Background(), "cs_1")
	if p == nil || p.Status != domain.PurchaseCompleted {
		t.Fatalf("expected completed purchase, got %+v", p)
	}
	if len(p.UsedForProjects) != 1 || p.UsedForProjects[0] != "proj-1" {
		t.Errorf("unexpected used_for_projects: %v", p.UsedForProjects)
	}
}

func TestHandleWebhook_ProcessingFailureIsRecorded(t *testing.T) {
	store := newMemStore()
	ev := checkoutEvent("evt_3", service.EventCheckoutCompleted, domain.ProductSingleProject, "proj-missing")
	svc := newWebhook(store, ev)

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "valid"); err != nil {
		t.Fatalf("processing failures must not surface, got %v", err)
	}
	rec := store.events["evt_3"]
	if rec.Status != domain.WebhookFailed || !strings.Contains(rec.Error, "proj-missing") {
		t.Errorf("expected failed event naming the project, got %+v", rec)
	}
}

func TestHandleWebhook_ExpiredAndIgnored(t *testing.T) {
	store := newMemStore()
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", Status: domain.PurchasePending})

	ev := checkoutEvent("evt_4", service.EventCheckoutExpired, domain.ProductAgencyPack, "")
	if err := newWebhook(store, ev).HandleWebhook(context.Background(), nil, "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p := store.purchase("pur-1"); p.Status != domain.PurchaseExpired {
		t.Errorf("expected expired, got %s", p.Status)
	}

	other := &domain.PaymentEvent{ID: "evt_5", Type: "invoice.paid"}
	if err := newWebhook(store, other).HandleWebhook(context.Background(), nil, "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec := store.events["evt_5"]; rec.Status != domain.WebhookIgnored {
		t.Errorf("expected ignored, got %q", rec.Status)
	}
}

func TestHandleWebhook_ExpiredDoesNotDowngradeCompleted(t *testing.T) {
	store := newMemStore()
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", Status: domain.PurchaseCompleted})

	ev := checkoutEvent("evt_6", service.EventCheckoutAsyncFailed, domain.ProductAgencyPack, "")
	if err := newWebhook(store, ev).HandleWebhook(context.Background(), nil, "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p := store.purchase("pur-1"); p.Status != domain.PurchaseCompleted {
		t.Errorf("expected completed to stick, got %s", p.Status)
	}
}

func TestHandleWebhook_UnpaidThenAsyncSucceeded(t *testing.T) {
	store := newMemStore()
	store.addCustomer(domain.StripeCustomer{UserID: ownerID, StripeCustomerID: "cus_1"})
	store.addPurchase(domain.Purchase{ID: "pur-1", UserID: ownerID, StripeSessionID: "cs_1", ProductID: domain.ProductAgencyPack, Status: domain.PurchasePending})

	unpaid := checkoutEvent("evt_7", service.EventCheckoutCompleted, domain.ProductAgencyPack, "")
	unpaid.Session.PaymentStatus = "unpaid"
	if err := newWebhook(store, unpaid).HandleWebhook(context.Background(), nil, "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec := store.events["evt_7"]; rec.Status != domain.WebhookIgnored {
		t.Errorf("expected unpaid completion to be ignored, got %q", rec.Status)
	}
	if got := store.customer(ownerID).CreditBalance; got != 0 {
		t.Errorf("expected no credits before payment, got %d", got)
	}
	if p := store.purchase("pur-1"); p.Status != domain.PurchasePending {
		t.Errorf("expected purchase still pending, got %s", p.Status)
	}

	paid := checkoutEvent("evt_8", service.EventCheckoutAsyncSucceeded, domain.ProductAgencyPack, "")
	if err := newWebhook(store, paid).HandleWebhook(context.Background(), nil, "valid"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := store.customer(ownerID).CreditBalance; got != 10 {
		t.Errorf("expected 10 credits after async payment, got %d", got)
	}
	if p := store.purchase("pur-1"); p.Status != domain.PurchaseCompleted {
		t.Errorf("expected purchase completed, got %s", p.Status)
	}
	if rec := store.events["evt_8"]; rec.Status != domain.WebhookProcessed {
		t.Errorf("expected async event processed, got %q", rec.Status)
	}
}

// ============================================================
// Credits
// ============================================================

func newCredits(store *memStore) *service.CreditService {
	ledger := service.NewOptimisticLedger(store, store, zap.NewNop())
	return service.NewCreditService(store, store, ledger, testProducts(), observability.NewMetrics(), zap.NewNop())
}

func TestGetBalance_NoCustomer(t *testing.T) {
	bal, err := newCredits(newMemStore()).GetBalance(context.Background(), owner)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if bal.CreditBalance != 0 || bal.Purchases == nil || len(bal.Purchases) != 0 {
		t.Errorf("expected empty balance, got %+v", bal)
	}
}

func TestApplyCredit_AlreadyUnlocked(t *testing.T) {
	store := newLedgerStore()
	store.addProject(sampleProject("proj-1", ownerID, true))

	res, err := newCredits(store).ApplyCredit(context.Background(), owner, &domain.ApplyCreditRequest{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.CreditConsumed || !res.IsUnlocked || res.RemainingCredits != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestApplyCredit_AlreadyUnlockedLogsBalanceFailure(t *testing.T) {
	store := newLedgerStore()
	store.addProject(sampleProject("proj-1", ownerID, true))
	store.getCustomerErr = errors.New("supabase down")

	core, logs := observer.New(zapcore.WarnLevel)
	ledger := service.NewOptimisticLedger(store, store, zap.NewNop())
	svc := service.NewCreditService(store, store, ledger, testProducts(), observability.NewMetrics(), zap.New(core))

	res, err := svc.ApplyCredit(context.Background(), owner, &domain.ApplyCreditRequest{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.IsUnlocked || res.RemainingCredits != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if logs.FilterMessage("credit balance unavailable for unlocked project").Len() != 1 {
		t.Errorf("expected the dropped error to be logged, got %v", logs.All())
	}
}

func TestApplyCredit_ConsumesCredit(t *testing.T) {
	store := newLedgerStore()
	store.addProject(sampleProject("proj-1", ownerID, false))

	res, err := newCredits(store).ApplyCredit(context.Background(), owner, &domain.ApplyCreditRequest{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.CreditConsumed || res.RemainingCredits != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestApplyCredit_NotOwner(t *testing.T) {
	store := newLedgerStore()
	store.addProject(sampleProject("proj-1", otherID, false))

	_, err := newCredits(store).ApplyCredit(context.Background(), owner, &domain.ApplyCreditRequest{ProjectID: "proj-1"})
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := store.customer(ownerID).CreditBalance; got != 2 {
		t.Errorf("balance must be untouched, got %d", got)
	}
}

func TestListProducts(t *testing.T) {
	products := newCredits(newMemStore()).ListProducts()
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	if products[1].ID != domain.ProductAgencyPack || products[1].Credits != 10 {
		t.Errorf("unexpected agency pack: %+v", products[1])
	}
}
