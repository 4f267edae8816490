package services

import "fmt"

// MetricsProvider aggregates user activity (orders, reviews, videos, ...)
// into a flat name → value map. Lives outside the core.
type MetricsProvider interface {
	// Metrics returns the full current snapshot for a user.
	Metrics(userID string) (map[string]float64, error)
}

// KnownMetrics is the closed vocabulary of metric names the rules engine
// accepts. Versioned with the Metrics Provider; definitions referencing a
// name outside this set are rejected at startup.
var KnownMetrics = map[string]bool{
	"totalOrders":      true,
	"totalSpend":       true,
	"ordersThisWeek":   true,
	"ordersThisMonth":  true,
	"totalReviews":     true,
	"totalVideos":      true,
	"videoViews":       true,
	"totalReferrals":   true,
	"storeVisits":      true,
	"loginStreak":      true,
	"orderStreak":      true,
	"reviewStreak":     true,
	"accountAgeDays":   true,
	"categoriesBought": true,
}

// ValidateTrackedMetrics rejects definitions whose tracked metrics are not
// in the vocabulary. Run once at startup over the active catalog.
func ValidateTrackedMetrics(names []string) error {
	for _, name := range names {
		if !KnownMetrics[name] {
			return fmt.Errorf("%w: %q", ErrUnknownMetric, name)
		}
	}
	return nil
}
