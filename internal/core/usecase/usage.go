package usecase

import (
	"sync"

	"github.com/kirillkom/rbac-assistant/internal/core/domain"
)

// UsageTracker counts routed requests per role and mode.
type UsageTracker struct {
	mu      sync.Mutex
	total   int
	perRole map[string]map[string]int
}

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{perRole: make(map[string]map[string]int)}
}

func (u *UsageTracker) Record(role string, mode domain.RouteMode) {
	role = domain.NormalizeRole(role)
	u.mu.Lock()
	defer u.mu.Unlock()
	counts, ok := u.perRole[role]
	if !ok {
		counts = make(map[string]int, 4)
		u.perRole[role] = counts
	}
	counts["total"]++
	counts["mode:"+string(mode)]++
	u.total++
}

func (u *UsageTracker) Reset() {
	u.mu.Lock()
	u.total = 0
	u.perRole = make(map[string]map[string]int)
	u.mu.Unlock()
}

func (u *UsageTracker) Snapshot() domain.UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := domain.UsageSnapshot{GrandTotal: u.total, PerRole: make(map[string]map[string]int, len(u.perRole))}
	for role, counts := range u.perRole {
		copied := make(map[string]int, len(counts))
		for k, v := range counts {
			copied[k] = v
		}
		out.PerRole[role] = copied
	}
	return out
}
