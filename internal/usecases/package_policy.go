package usecases

import (
	"strings"

	"github.com/faztycoding/grandstate/internal/entities"
)

var packagePlans = map[string]entities.PackagePlan{
	entities.PlanFree: {
		ID:                 entities.PlanFree,
		PostsPerDay:        20,
		MaxProperties:      5,
		MaxGroups:          10,
		ConcurrentSessions: 1,
	},
	entities.PlanAgent: {
		ID:                 entities.PlanAgent,
		PostsPerDay:        100,
		MaxProperties:      50,
		MaxGroups:          50,
		ConcurrentSessions: 1,
		SchedulingEnabled:  true,
		AnalyticsEnabled:   true,
	},
	entities.PlanElite: {
		ID:                 entities.PlanElite,
		PostsPerDay:        300,
		MaxProperties:      entities.Unbounded,
		MaxGroups:          200,
		ConcurrentSessions: 3,
		SchedulingEnabled:  true,
		AnalyticsEnabled:   true,
	},
}

// LimitsFor resolves a package id. Unknown or empty ids get the free plan.
func LimitsFor(planID string) entities.PackagePlan {
	if plan, ok := packagePlans[strings.ToLower(strings.TrimSpace(planID))]; ok {
		return plan
	}
	return packagePlans[entities.PlanFree]
}

// KnownPlan reports whether planID names a package exactly.
func KnownPlan(planID string) bool {
	_, ok := packagePlans[planID]
	return ok
}

// Plans lists packages from smallest to largest.
func Plans() []entities.PackagePlan {
	return []entities.PackagePlan{
		packagePlans[entities.PlanFree],
		packagePlans[entities.PlanAgent],
		packagePlans[entities.PlanElite],
	}
}
