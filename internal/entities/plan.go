package entities

// Unbounded marks a plan limit without a ceiling.
const Unbounded = -1

const (
	PlanFree  = "free"
	PlanAgent = "agent"
	PlanElite = "elite"
)

// PackagePlan defines what a subscription tier allows per account.
type PackagePlan struct {
	ID                 string `json:"id"`
	PostsPerDay        int    `json:"posts_per_day"`
	MaxProperties      int    `json:"max_properties"` // Unbounded = no limit
	MaxGroups          int    `json:"max_groups"`
	ConcurrentSessions int    `json:"concurrent_sessions"`
	SchedulingEnabled  bool   `json:"scheduling_enabled"`
	AnalyticsEnabled   bool   `json:"analytics_enabled"`
}

// AllowsProperties reports whether n stored properties fit the plan.
func (p PackagePlan) AllowsProperties(n int) bool {
	return p.MaxProperties == Unbounded || n <= p.MaxProperties
}
