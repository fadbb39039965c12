package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/campuspay/campuspay/pkg/logger"
)

// BalanceRefresher re-reads the manager's balance on a cron schedule
type BalanceRefresher struct {
	manager *Manager
	expr    string
	now     func() time.Time
}

// NewBalanceRefresher validates expr, a standard five-field cron expression
func NewBalanceRefresher(manager *Manager, expr string) (*BalanceRefresher, error) {
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, expr)
	}
	return &BalanceRefresher{
		manager: manager,
		expr:    expr,
		now:     time.Now,
	}, nil
}

// Next returns the first scheduled refresh strictly after ref
func (r *BalanceRefresher) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(r.expr, ref, false)
}

// Run blocks until ctx is done, refreshing on every tick
func (r *BalanceRefresher) Run(ctx context.Context) error {
	logger.InfoCF("wallet", "Balance refresher started", map[string]any{
		"schedule": r.expr,
	})

	for {
		next, err := r.Next(r.now())
		if err != nil {
			return err
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := r.manager.RefreshBalance(ctx); err != nil {
			logger.WarnCF("wallet", "Scheduled balance refresh failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
