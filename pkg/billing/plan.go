package billing

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Plan describes a subscription tier and its resource/feature constraints.
// The catalog is the single source of truth for features and limits; the
// entitlement store never duplicates this data. PriceIDs map billing intervals
// to the payment provider's price identifiers and stay empty for the free
// tier.
type Plan struct {
	ID          PlanID              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Features    []Feature           `yaml:"features"`
	Limits      map[Resource]int64  `yaml:"limits"`
	Prices      map[Interval]Money  `yaml:"prices"`
	PriceIDs    map[Interval]string `yaml:"price_ids"`
}

// Purchasable reports whether the plan can go through provider checkout.
func (p Plan) Purchasable() bool {
	return p.ID != PlanFree && len(p.PriceIDs) > 0
}

func clonePlan(p Plan) Plan {
	return Plan{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Features:    slices.Clone(p.Features),
		Limits:      maps.Clone(p.Limits),
		Prices:      maps.Clone(p.Prices),
		PriceIDs:    maps.Clone(p.PriceIDs),
	}
}

// Catalog holds the static plan definitions. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	plans map[PlanID]Plan
}

// NewCatalog builds a catalog from the given plans. The free plan is required
// because it is the fallback for every expired or missing entitlement.
// Plans are deep-copied so later mutations of the inputs cannot leak in.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	byID := make(map[PlanID]Plan, len(plans))
	for _, p := range plans {
		if !p.ID.Valid() {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("unknown plan id %q", p.ID))
		}
		if _, exists := byID[p.ID]; exists {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("duplicate plan id %q", p.ID))
		}
		for interval := range p.PriceIDs {
			if !interval.Valid() {
				return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("plan %q: unknown interval %q", p.ID, interval))
			}
		}
		byID[p.ID] = clonePlan(p)
	}
	if _, ok := byID[PlanFree]; !ok {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("free plan is required"))
	}
	return &Catalog{plans: byID}, nil
}

// MustNewCatalog builds a catalog and panics on configuration errors.
// Broken plan configuration should prevent startup, not surface at runtime.
func MustNewCatalog(plans ...Plan) *Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

// Plan returns the plan with the given ID.
// Returns ErrPlanNotFound for unknown or unconfigured IDs.
func (c *Catalog) Plan(id PlanID) (Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return clonePlan(p), nil
}

// Plans returns all configured plans in stable tier order:
// free, basic, premium, enterprise.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, id := range planOrder {
		if p, ok := c.plans[id]; ok {
			out = append(out, clonePlan(p))
		}
	}
	return out
}

// PlanForPriceID maps a provider price ID back to its plan and interval.
// Used by providers to resolve webhook payloads that carry only a price ID.
func (c *Catalog) PlanForPriceID(priceID string) (Plan, Interval, bool) {
	if priceID == "" {
		return Plan{}, "", false
	}
	for _, id := range planOrder {
		p, ok := c.plans[id]
		if !ok {
			continue
		}
		for interval, pid := range p.PriceIDs {
			if pid == priceID {
				return clonePlan(p), interval, true
			}
		}
	}
	return Plan{}, "", false
}

// LoadCatalogFile reads plan definitions from a YAML file. Deployments use
// this to override pricing and limits without recompiling.
func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, err)
	}

	return NewCatalog(doc.Plans...)
}

// DefaultCatalog returns the built-in plan set. Provider price IDs are empty;
// provider-backed deployments are expected to load a catalog file that carries
// their real price IDs.
func DefaultCatalog() *Catalog {
	return MustNewCatalog(
		Plan{
			ID:          PlanFree,
			Name:        "Free",
			Description: "Get started with the question bank",
			Features:    []Feature{},
			Limits: map[Resource]int64{
				ResourceQuestionLists: 3,
				ResourceNotes:         25,
				ResourceMockSessions:  1,
				ResourceBookmarks:     20,
			},
		},
		Plan{
			ID:          PlanBasic,
			Name:        "Basic",
			Description: "Structured preparation for an upcoming interview",
			Features:    []Feature{FeatureExport},
			Limits: map[Resource]int64{
				ResourceQuestionLists: 20,
				ResourceNotes:         500,
				ResourceMockSessions:  5,
				ResourceBookmarks:     200,
			},
			Prices: map[Interval]Money{
				IntervalMonthly: {Amount: 900, Currency: "USD"},
				IntervalYearly:  {Amount: 9000, Currency: "USD"},
			},
		},
		Plan{
			ID:          PlanPremium,
			Name:        "Premium",
			Description: "Everything in Basic plus AI feedback and mock interviews",
			Features:    []Feature{FeatureExport, FeatureAIFeedback, FeatureMockInterviews, FeatureCompanyGuides},
			Limits: map[Resource]int64{
				ResourceQuestionLists: Unlimited,
				ResourceNotes:         Unlimited,
				ResourceMockSessions:  20,
				ResourceBookmarks:     Unlimited,
			},
			Prices: map[Interval]Money{
				IntervalMonthly: {Amount: 1900, Currency: "USD"},
				IntervalYearly:  {Amount: 19000, Currency: "USD"},
			},
		},
		Plan{
			ID:          PlanEnterprise,
			Name:        "Enterprise",
			Description: "Team seats, priority support and unlimited usage",
			Features:    []Feature{FeatureExport, FeatureAIFeedback, FeatureMockInterviews, FeatureCompanyGuides, FeaturePrioritySupport, FeatureTeamSeats},
			Limits: map[Resource]int64{
				ResourceQuestionLists: Unlimited,
				ResourceNotes:         Unlimited,
				ResourceMockSessions:  Unlimited,
				ResourceBookmarks:     Unlimited,
			},
			Prices: map[Interval]Money{
				IntervalMonthly: {Amount: 4900, Currency: "USD"},
				IntervalYearly:  {Amount: 49000, Currency: "USD"},
			},
		},
	)
}
