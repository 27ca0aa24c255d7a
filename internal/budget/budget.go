// Package budget decides whether a user still has spend left. Budgets
// come from configuration: admins are unlimited, listed users get the
// budget at their position in the user budget list, everyone else gets
// the guest budget. The configured period selects which ledger counter
// the budget is checked against.
package budget

import (
	"context"
	"fmt"
	"math"

	"github.com/danghm/botledger/config"
	"github.com/danghm/botledger/internal/access"
	"github.com/danghm/botledger/internal/usage"
)

// CostReader is the slice of the usage tracker the guard needs.
type CostReader interface {
	CurrentCost(ctx context.Context, userID int64) (*usage.Costs, error)
}

type Guard struct {
	acl     *access.ACL
	costs   CostReader
	budgets []float64
	all     bool // "*": unlimited budget for everyone
	guest   float64
	period  config.BudgetPeriod
}

func NewGuard(cfg *config.Config, acl *access.ACL, costs CostReader) (*Guard, error) {
	g := &Guard{
		acl:    acl,
		costs:  costs,
		guest:  cfg.GuestBudget,
		period: cfg.BudgetPeriod,
	}
	if cfg.UserBudgets == "*" {
		g.all = true
		return g, nil
	}
	budgets, err := config.ParseFloatList(cfg.UserBudgets, 0)
	if err != nil {
		return nil, fmt.Errorf("invalid user budgets: %w", err)
	}
	g.budgets = budgets
	return g, nil
}

// UserBudget returns the configured budget for a user. Admins and "*"
// configurations are unlimited (+Inf).
func (g *Guard) UserBudget(userID int64) float64 {
	if g.all || g.acl.IsAdmin(userID) {
		return math.Inf(1)
	}
	if idx, ok := g.acl.AllowedIndex(userID); ok && idx < len(g.budgets) {
		return g.budgets[idx]
	}
	return g.guest
}

// Remaining returns how much of the user's budget is left for the
// configured period. It can go negative when the last event overshot.
func (g *Guard) Remaining(ctx context.Context, userID int64) (float64, error) {
	budget := g.UserBudget(userID)
	if math.IsInf(budget, 1) {
		return budget, nil
	}

	costs, err := g.costs.CurrentCost(ctx, userID)
	if err != nil {
		return 0, err
	}

	var spent float64
	switch g.period {
	case config.BudgetDaily:
		spent = costs.Today
	case config.BudgetAllTime:
		spent = costs.AllTime
	default:
		spent = costs.Month
	}
	return budget - spent, nil
}

// Allows reports whether the user may spend more right now.
func (g *Guard) Allows(ctx context.Context, userID int64) (bool, error) {
	remaining, err := g.Remaining(ctx, userID)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}
