package domain

import (
	"strings"

	"github.com/queuecast/queuecast/internal/shared/domain"
)

// Plan is a catalog entry describing what a subscription grants and costs.
// Prices are minor units (cents, kobo).
type Plan struct {
	domain.BaseEntity
	name         string
	priceMonthly int64
	currency     string
	prices       map[string]int64
	features     []string
	maxPosts     int
	maxPlatforms int
	trialDays    int
	active       bool
}

// NewPlan creates a catalog plan.
func NewPlan(name string, priceMonthly int64, currency string, trialDays int) (*Plan, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, ErrPlanNotFound
	}
	return &Plan{
		BaseEntity:   domain.NewBaseEntity(),
		name:         name,
		priceMonthly: priceMonthly,
		currency:     strings.ToUpper(currency),
		trialDays:    trialDays,
		active:       true,
	}, nil
}

// RehydratePlan recreates a plan from persisted state.
func RehydratePlan(entity domain.BaseEntity, name string, priceMonthly int64, currency string, prices map[string]int64, features []string, maxPosts, maxPlatforms, trialDays int, active bool) *Plan {
	return &Plan{
		BaseEntity:   entity,
		name:         name,
		priceMonthly: priceMonthly,
		currency:     currency,
		prices:       prices,
		features:     features,
		maxPosts:     maxPosts,
		maxPlatforms: maxPlatforms,
		trialDays:    trialDays,
		active:       active,
	}
}

func (p *Plan) Name() string        { return p.name }
func (p *Plan) PriceMonthly() int64 { return p.priceMonthly }
func (p *Plan) Currency() string    { return p.currency }
func (p *Plan) Prices() map[string]int64 { return p.prices }
func (p *Plan) Features() []string  { return p.features }
func (p *Plan) MaxPosts() int       { return p.maxPosts }
func (p *Plan) MaxPlatforms() int   { return p.maxPlatforms }
func (p *Plan) TrialDays() int      { return p.trialDays }
func (p *Plan) IsActive() bool      { return p.active }

// Price returns the monthly price in the requested currency, falling back to
// the plan's base price when no per-currency override exists.
func (p *Plan) Price(currency string) int64 {
	if v, ok := p.prices[strings.ToUpper(currency)]; ok {
		return v
	}
	return p.priceMonthly
}

// SetFeatures replaces the feature list.
func (p *Plan) SetFeatures(features []string) { p.features = features; p.Touch() }

// SetLimits replaces the posting limits.
func (p *Plan) SetLimits(maxPosts, maxPlatforms int) {
	p.maxPosts = maxPosts
	p.maxPlatforms = maxPlatforms
	p.Touch()
}

// SetPrice sets a per-currency price override.
func (p *Plan) SetPrice(currency string, price int64) {
	if p.prices == nil {
		p.prices = make(map[string]int64)
	}
	p.prices[strings.ToUpper(currency)] = price
	p.Touch()
}

// Deactivate removes the plan from sale without deleting it. Plans with live
// subscriptions are never deleted; the denormalized plan type on the
// subscription plus the fallback table below keep billing working regardless.
func (p *Plan) Deactivate() { p.active = false; p.Touch() }

// fallbackPlan is a static pricing entry used when a subscription's plan row
// no longer exists at charge time.
type fallbackPlan struct {
	PriceMonthly int64
	Currency     string
	TrialDays    int
}

var fallbackPlans = map[string]fallbackPlan{
	"starter":  {PriceMonthly: 900, Currency: "USD", TrialDays: 7},
	"pro":      {PriceMonthly: 2900, Currency: "USD", TrialDays: 14},
	"business": {PriceMonthly: 7900, Currency: "USD", TrialDays: 14},
}

// FallbackPrice resolves a charge amount for a plan name when the catalog row
// is gone. The bool reports whether the name is known.
func FallbackPrice(planType string) (int64, string, bool) {
	fp, ok := fallbackPlans[strings.ToLower(strings.TrimSpace(planType))]
	if !ok {
		return 0, "", false
	}
	return fp.PriceMonthly, fp.Currency, true
}
