// Package guardian enforces wall-clock and budget limits on a running
// pipeline. Checks are cheap and run at stage boundaries.
package guardian

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned once elapsed wall clock exceeds the limit.
	ErrTimeout = errors.New("timeout exceeded")
	// ErrCostExceeded is returned once accumulated spend exceeds a positive budget.
	ErrCostExceeded = errors.New("budget exceeded")
)

// DefaultTimeout bounds a run when the caller does not set a limit.
const DefaultTimeout = 120 * time.Second

// Guardian watches a single run. A budget of zero disables cost
// enforcement; the wall-clock limit is always enforced.
type Guardian struct {
	budgetUSD float64
	timeout   time.Duration
	started   time.Time

	mu    sync.Mutex
	spent float64
}

// New starts a guardian with the given budget in USD and wall-clock limit.
// A non-positive timeout falls back to DefaultTimeout and a negative budget
// is clamped to zero.
func New(budgetUSD float64, timeout time.Duration) *Guardian {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if budgetUSD < 0 {
		budgetUSD = 0
	}
	return &Guardian{
		budgetUSD: budgetUSD,
		timeout:   timeout,
		started:   time.Now(),
	}
}

// AddCost records spend in USD attributed to the run.
func (g *Guardian) AddCost(deltaUSD float64) {
	g.mu.Lock()
	g.spent += deltaUSD
	g.mu.Unlock()
}

// Spent reports the accumulated cost so far.
func (g *Guardian) Spent() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spent
}

// CostExceeded reports whether spend has crossed a positive budget.
func (g *Guardian) CostExceeded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.budgetUSD > 0 && g.spent > g.budgetUSD
}

// Check returns ErrTimeout or ErrCostExceeded once the corresponding limit
// has been crossed, nil otherwise.
func (g *Guardian) Check() error {
	if elapsed := time.Since(g.started); elapsed > g.timeout {
		return fmt.Errorf("%w: %s > %s", ErrTimeout, elapsed.Round(time.Millisecond), g.timeout)
	}
	if g.CostExceeded() {
		return fmt.Errorf("%w: %.4f USD > %.4f USD", ErrCostExceeded, g.Spent(), g.budgetUSD)
	}
	return nil
}
