package service

import (
	"strings"

	"github.com/marketingguide/mgai-api/internal/config"
	"github.com/marketingguide/mgai-api/internal/domain"
)

// agencyPackCredits is the number of projects an agency pack unlocks.
const agencyPackCredits = 10

// Products is the static product catalog sold through Stripe Checkout.
type Products struct {
	list []domain.Product
}

// NewProducts builds the catalog from the configured Stripe prices.
func NewProducts(cfg config.StripeConfig) *Products {
	currency := strings.ToLower(cfg.Currency)
	return &Products{list: []domain.Product{
		{
			ID:             domain.ProductSingleProject,
			Name:           "Single Project",
			Description:    "Unlock every document type for one project.",
			PriceID:        cfg.SingleProjectPrice,
			AmountCents:    cfg.SingleProjectCents,
			Currency:       currency,
			Credits:        1,
			UnlocksProject: true,
		},
		{
			ID:          domain.ProductAgencyPack,
			Name:        "Agency Pack",
			Description: "Ten project credits to apply whenever you need them.",
			PriceID:     cfg.AgencyPackPrice,
			AmountCents: cfg.AgencyPackCents,
			Currency:    currency,
			Credits:     agencyPackCredits,
		},
	}}
}

// List returns all products.
func (p *Products) List() []domain.Product {
	out := make([]domain.Product, len(p.list))
	copy(out, p.list)
	return out
}

// Get looks a product up by id.
func (p *Products) Get(id string) (domain.Product, bool) {
	for _, prod := range p.list {
		if prod.ID == id {
			return prod, true
		}
	}
	return domain.Product{}, false
}
