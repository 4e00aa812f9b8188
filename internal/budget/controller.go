package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stacks/internal/config"
	"stacks/internal/logging"
	"stacks/internal/queue"
	"stacks/internal/services"
)

// Signal is the throttle state the admission controller consults.
type Signal string

const (
	SignalNormal      Signal = "normal"
	SignalConstrained Signal = "constrained"
)

// Alerter receives urgent operator notifications. Alert delivery failures
// never affect the budget cycle.
type Alerter interface {
	NotifyBudgetAlert(ctx context.Context, message string) error
}

// CycleResult summarizes one hysteresis cycle.
type CycleResult struct {
	Renewed         bool
	RenewalAlert    bool
	ConvertedPoints int64
	SecondaryGained float64
	Balance         int64
	Signal          Signal
}

// Status is a read-only snapshot for the CLI and HTTP API.
type Status struct {
	Balance          int64
	BufferFloor      int64
	HardCap          int64
	MembershipExpiry time.Time
	DaysRemaining    int
	EarnRate         float64
	Signal           Signal
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Controller runs the hysteresis cycle over the singleton budget account:
// renewal check, buffer preservation, threshold-triggered surplus conversion,
// throttle signal. All balance mutation is mutex-serialized; the hysteresis
// decisions are race-sensitive.
type Controller struct {
	mu      sync.Mutex
	store   *queue.Store
	cfg     config.Budget
	alerter Alerter
	logger  *slog.Logger
	clock   func() time.Time

	constrained bool
}

// New creates a budget controller.
func New(store *queue.Store, cfg config.Budget, alerter Alerter, logger *slog.Logger, opts ...Option) *Controller {
	controller := &Controller{
		store:   store,
		cfg:     cfg,
		alerter: alerter,
		logger:  logging.NewComponentLogger(logger, "budget"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(controller)
	}
	return controller
}

// Constrained reports the throttle signal, derived from the persisted
// account so a fresh process answers correctly before its first cycle. Falls
// back to the last cycle's signal when the account cannot be read.
func (c *Controller) Constrained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	account, err := c.store.BudgetAccount(context.Background())
	if err != nil {
		return c.constrained
	}
	return c.signalFor(account, c.clock().UTC()) == SignalConstrained
}

// signalFor derives the throttle from account state: a balance below the
// buffer floor, or a due renewal the balance cannot cover.
func (c *Controller) signalFor(account *queue.Account, now time.Time) Signal {
	renewalDue := account.MembershipDaysRemaining(now) < c.cfg.RenewalThresholdDays
	if account.Balance < c.cfg.BufferFloor() || (renewalDue && account.Balance < c.cfg.RenewalCost) {
		return SignalConstrained
	}
	return SignalNormal
}

// Observe records an externally earned balance and earn rate. The controller
// never generates points itself; it only observes and spends them.
func (c *Controller) Observe(ctx context.Context, balance int64, earnRate float64) error {
	if balance < 0 {
		return fmt.Errorf("observed balance must not be negative, got %d", balance)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.store.BudgetAccount(ctx)
	if err != nil {
		return services.Wrap(services.ErrBudget, "budget", "observe", "load account", err)
	}
	account.Balance = balance
	if earnRate > 0 {
		account.EarnRate = earnRate
	}
	if err := c.store.UpdateBudgetAccount(ctx, account); err != nil {
		return services.Wrap(services.ErrBudget, "budget", "observe", "persist account", err)
	}
	c.logger.Info("balance observed",
		logging.Int64("balance", balance),
		logging.Float64("earn_rate", account.EarnRate))
	return nil
}

// SetMembershipExpiry records the current membership expiry, normally set
// once at bootstrap and maintained by renewals afterwards.
func (c *Controller) SetMembershipExpiry(ctx context.Context, expiry time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.store.BudgetAccount(ctx)
	if err != nil {
		return services.Wrap(services.ErrBudget, "budget", "set expiry", "load account", err)
	}
	account.MembershipExpiry = expiry.UTC()
	if err := c.store.UpdateBudgetAccount(ctx, account); err != nil {
		return services.Wrap(services.ErrBudget, "budget", "set expiry", "persist account", err)
	}
	return nil
}

// RunCycle executes one hysteresis cycle. Renewal always takes priority over
// conversion; no voluntary spend ever drops the balance below the buffer
// floor; conversion fires only at the hard cap.
func (c *Controller) RunCycle(ctx context.Context) (*CycleResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock().UTC()
	account, err := c.store.BudgetAccount(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrBudget, "budget", "cycle", "load account", err)
	}

	floor := c.cfg.BufferFloor()
	result := &CycleResult{}

	renewalDue := account.MembershipDaysRemaining(now) < c.cfg.RenewalThresholdDays
	if renewalDue {
		if account.Balance >= c.cfg.RenewalCost {
			account.Balance -= c.cfg.RenewalCost
			account.MembershipExpiry = extendExpiry(account.MembershipExpiry, now, c.cfg.ValidityDays)
			if _, err := c.store.AppendLedger(ctx, queue.LedgerRenewal, -c.cfg.RenewalCost, account.Balance); err != nil {
				return nil, services.Wrap(services.ErrBudget, "budget", "cycle", "append renewal ledger", err)
			}
			result.Renewed = true
			c.logger.Info("membership renewed",
				logging.Int64("cost", c.cfg.RenewalCost),
				logging.Int64("balance", account.Balance),
				logging.Time("new_expiry", account.MembershipExpiry))
		} else {
			result.RenewalAlert = true
			message := fmt.Sprintf("membership renewal due in %d days but balance %d is below renewal cost %d",
				account.MembershipDaysRemaining(now), account.Balance, c.cfg.RenewalCost)
			c.logger.Error("renewal blocked on insufficient balance",
				logging.Alert("urgent"),
				logging.Int64("balance", account.Balance),
				logging.Int64("renewal_cost", c.cfg.RenewalCost))
			if c.alerter != nil {
				if alertErr := c.alerter.NotifyBudgetAlert(ctx, message); alertErr != nil {
					c.logger.Warn("budget alert delivery failed", logging.Error(alertErr))
				}
			}
		}
	}

	if account.Balance >= c.cfg.HardCap {
		surplus := account.Balance - floor
		if surplus > 0 {
			account.Balance -= surplus
			result.ConvertedPoints = surplus
			result.SecondaryGained = float64(surplus) * c.cfg.ExchangeRate
			if _, err := c.store.AppendLedger(ctx, queue.LedgerConversion, -surplus, account.Balance); err != nil {
				return nil, services.Wrap(services.ErrBudget, "budget", "cycle", "append conversion ledger", err)
			}
			c.logger.Info("surplus converted",
				logging.Int64("converted", surplus),
				logging.Float64("secondary_gained", result.SecondaryGained),
				logging.Int64("balance", account.Balance))
		}
	}

	if err := c.store.UpdateBudgetAccount(ctx, account); err != nil {
		return nil, services.Wrap(services.ErrBudget, "budget", "cycle", "persist account", err)
	}

	c.constrained = c.signalFor(account, now) == SignalConstrained
	result.Balance = account.Balance
	result.Signal = SignalNormal
	if c.constrained {
		result.Signal = SignalConstrained
	}
	c.logger.Info("budget cycle complete",
		logging.Int64("balance", account.Balance),
		logging.Int64("buffer_floor", floor),
		logging.String("signal", string(result.Signal)))
	return result, nil
}

// Status returns a snapshot of the account and throttle state.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.store.BudgetAccount(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrBudget, "budget", "status", "load account", err)
	}
	now := c.clock().UTC()
	signal := c.signalFor(account, now)
	c.constrained = signal == SignalConstrained
	return &Status{
		Balance:          account.Balance,
		BufferFloor:      c.cfg.BufferFloor(),
		HardCap:          c.cfg.HardCap,
		MembershipExpiry: account.MembershipExpiry,
		DaysRemaining:    account.MembershipDaysRemaining(now),
		EarnRate:         account.EarnRate,
		Signal:           signal,
	}, nil
}

// Ledger exposes recent spend records for the CLI and HTTP API.
func (c *Controller) Ledger(ctx context.Context, limit int) ([]*queue.LedgerEntry, error) {
	return c.store.ListLedger(ctx, limit)
}

// extendExpiry extends from the current expiry when still valid, otherwise
// from now, so a late renewal does not backdate the new period.
func extendExpiry(expiry, now time.Time, validityDays int) time.Time {
	base := expiry
	if base.Before(now) {
		base = now
	}
	return base.AddDate(0, 0, validityDays)
}
