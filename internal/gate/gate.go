// Package gate tracks in-flight workers against a global limit and a
// fixed per-site limit of one.
package gate

import "sync"

// perSiteLimit is fixed policy: one worker per site at a time. If this
// ever needs to vary per site, this constant is the single
// substitution point.
const perSiteLimit = 1

// Gate admits or denies worker launches. A reservation is a
// (site key, job id) pair held while that site's worker runs.
type Gate struct {
	mu    sync.Mutex
	limit int
	total int
	held  map[string][]int64
}

// New creates a Gate with the given global limit.
func New(limit int) *Gate {
	if limit < 0 {
		limit = 0
	}
	return &Gate{
		limit: limit,
		held:  make(map[string][]int64),
	}
}

// TryReserve records a reservation for siteKey iff the global count is
// below the limit and the site is below its per-site cap. Returns
// false with no side effects otherwise.
func (g *Gate) TryReserve(siteKey string, jobID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.total >= g.limit {
		return false
	}
	if len(g.held[siteKey]) >= perSiteLimit {
		return false
	}
	g.held[siteKey] = append(g.held[siteKey], jobID)
	g.total++
	return true
}

// Release removes one reservation for siteKey. Releasing a key that is
// not held is a no-op, so supervisor error paths may release freely.
func (g *Gate) Release(siteKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := g.held[siteKey]
	if len(ids) == 0 {
		return
	}
	if len(ids) == 1 {
		delete(g.held, siteKey)
	} else {
		g.held[siteKey] = ids[:len(ids)-1]
	}
	g.total--
}

// SetLimit updates the global cap. It takes effect on the next
// TryReserve; reservations above a lowered limit are kept until their
// workers finish.
func (g *Gate) SetLimit(n int) {
	if n < 0 {
		n = 0
	}
	g.mu.Lock()
	g.limit = n
	g.mu.Unlock()
}

// Limit returns the current global cap.
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Active returns the number of held reservations.
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}

// Sites returns a snapshot of the currently reserved site keys.
func (g *Gate) Sites() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	sites := make([]string, 0, len(g.held))
	for site := range g.held {
		sites = append(sites, site)
	}
	return sites
}
