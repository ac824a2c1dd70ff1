package billing

// PlanID identifies one of the fixed subscription tiers.
type PlanID string

const (
	PlanFree       PlanID = "free"
	PlanBasic      PlanID = "basic"
	PlanPremium    PlanID = "premium"
	PlanEnterprise PlanID = "enterprise"
)

// planOrder is the canonical presentation order for the catalog.
var planOrder = []PlanID{PlanFree, PlanBasic, PlanPremium, PlanEnterprise}

// Valid reports whether the plan ID is one of the known tiers.
func (id PlanID) Valid() bool {
	switch id {
	case PlanFree, PlanBasic, PlanPremium, PlanEnterprise:
		return true
	}
	return false
}

// Interval represents the billing frequency chosen at checkout.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalYearly  Interval = "yearly"
)

// Months returns the entitlement duration granted per billing period.
func (i Interval) Months() int {
	if i == IntervalYearly {
		return 12
	}
	return 1
}

// Valid reports whether the interval is recognized.
func (i Interval) Valid() bool {
	return i == IntervalMonthly || i == IntervalYearly
}

// Resource represents a countable per-user resource type.
type Resource string

const (
	ResourceQuestionLists Resource = "question_lists"
	ResourceNotes         Resource = "notes"
	ResourceMockSessions  Resource = "mock_sessions"
	ResourceBookmarks     Resource = "bookmarks"
)

const (
	// Unlimited indicates no limit for a resource (-1 chosen for SQL compatibility)
	Unlimited int64 = -1
)

// Feature represents a plan-specific capability that can be enabled/disabled.
type Feature string

const (
	FeatureAIFeedback      Feature = "ai_feedback"
	FeatureMockInterviews  Feature = "mock_interviews"
	FeatureCompanyGuides   Feature = "company_guides"
	FeatureExport          Feature = "export"
	FeaturePrioritySupport Feature = "priority_support"
	FeatureTeamSeats       Feature = "team_seats"
)

// Money represents a monetary amount in the smallest currency unit.
// For example, $10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `yaml:"amount"`
	Currency string `yaml:"currency"`
}

// Mode selects the single source of truth for entitlement changes.
// ModeProvider means a payment provider drives state through webhooks and
// synchronous provider calls. ModeDirect means the service itself activates
// plans (demo and self-hosted installs) and no provider is wired at all.
// The two are mutually exclusive by construction.
type Mode string

const (
	ModeProvider Mode = "provider"
	ModeDirect   Mode = "direct"
)
