package recommend

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/Adithya-Monish-Kumar-K/property-search/pkg/redis"
)

const activityKey = "activity:users"

// ActivityTracker records when each user last completed a search. The
// refresh job recomputes recommendations only for users active within the
// configured window.
type ActivityTracker struct {
	client *pkgredis.Client
	now    func() time.Time
}

func NewActivityTracker(client *pkgredis.Client) *ActivityTracker {
	return &ActivityTracker{client: client, now: time.Now}
}

// Touch marks userID as active now.
func (a *ActivityTracker) Touch(ctx context.Context, userID string) error {
	if err := a.client.ZAdd(ctx, activityKey, userID, float64(a.now().Unix())); err != nil {
		return fmt.Errorf("recording activity of %s: %w", userID, err)
	}
	return nil
}

// Active returns the users whose last search falls within window, most
// recent first. Older entries are pruned on the way.
func (a *ActivityTracker) Active(ctx context.Context, window time.Duration) ([]string, error) {
	cutoff := float64(a.now().Add(-window).Unix())
	if err := a.client.ZRemRangeBelow(ctx, activityKey, cutoff); err != nil {
		return nil, fmt.Errorf("pruning activity: %w", err)
	}
	members, err := a.client.ZRevRangeAbove(ctx, activityKey, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reading activity: %w", err)
	}
	users := make([]string, len(members))
	for i, m := range members {
		users[i] = m.Member
	}
	return users, nil
}
