package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"kimi/internal/lifecycle"
	dbm "kimi/internal/models/db_models"
	"kimi/internal/repositories"
	mem "kimi/pkg/memcache"
	"kimi/pkg/utils"
)

var schedLog = logging.Logger("scheduler")

const (
	sweepBatch       = 100
	sweepConcurrency = 4
	reminderWindow   = 24 * time.Hour
	overdueWindow    = 7 * 24 * time.Hour
)

type SchedulerConfig struct {
	SweepInterval    time.Duration
	ReminderInterval time.Duration
}

// Scheduler runs the periodic sweeps. Each sweep takes a lease so only one
// instance of the service runs it at a time.
type Scheduler struct {
	txns     repositories.EscrowTransactionRepository
	payments *PaymentService
	leases   mem.LeaseStore
	notifier Notifier
	cfg      SchedulerConfig
	owner    string
	now      utils.Clock

	autoReleaseRunning atomic.Bool
	retryRunning       atomic.Bool
	reminderRunning    atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(repos repositories.Set, payments *PaymentService, leases mem.LeaseStore, notifier Notifier, cfg SchedulerConfig) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.ReminderInterval <= 0 {
		cfg.ReminderInterval = time.Hour
	}
	return &Scheduler{
		txns:     repos.Transactions,
		payments: payments,
		leases:   leases,
		notifier: notifier,
		cfg:      cfg,
		owner:    uuid.NewString(),
		now:      utils.SystemClock,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.loop("auto_release", s.cfg.SweepInterval, func(ctx context.Context) { _, _ = s.SweepAutoRelease(ctx) })
	s.loop("payment_retry", s.cfg.SweepInterval, func(ctx context.Context) { _, _ = s.SweepRetries(ctx) })
	s.loop("reminders", s.cfg.ReminderInterval, func(ctx context.Context) { _, _ = s.SweepReminders(ctx) })
	schedLog.Infow("scheduler started", "sweep_interval", s.cfg.SweepInterval, "reminder_interval", s.cfg.ReminderInterval)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	schedLog.Info("scheduler stopped")
}

func (s *Scheduler) loop(name string, every time.Duration, run func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), every)
				run(ctx)
				cancel()
			}
		}
	}()
}

// RunOnce runs every sweep a single time.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	if _, err := s.SweepAutoRelease(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.SweepRetries(ctx); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.SweepReminders(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withLease runs fn under the named sweep lease. It reports false when the
// sweep is already running here or holds a lease elsewhere.
func (s *Scheduler) withLease(ctx context.Context, name string, running *atomic.Bool, ttl time.Duration, fn func() error) (bool, error) {
	if !running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer running.Store(false)

	key := "sweep:" + name
	ok, err := s.leases.Acquire(ctx, key, s.owner, ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		schedLog.Debugw("sweep held elsewhere", "sweep", name)
		return false, nil
	}
	defer func() {
		if err := s.leases.Release(context.Background(), key, s.owner); err != nil {
			schedLog.Warnw("releasing sweep lease", "sweep", name, "err", err)
		}
	}()
	return true, fn()
}

// SweepAutoRelease releases every DELIVERED transaction whose auto-release
// date has passed. A transaction the buyer is confirming concurrently is
// skipped.
func (s *Scheduler) SweepAutoRelease(ctx context.Context) (int, error) {
	var released atomic.Int64
	_, err := s.withLease(ctx, "auto_release", &s.autoReleaseRunning, s.cfg.SweepInterval, func() error {
		ids, err := s.txns.ListDueForAutoRelease(ctx, s.now(), sweepBatch)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(sweepConcurrency)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				err := s.payments.ReleaseFunds(gctx, id, lifecycle.ActionAutoRelease, lifecycle.ActorSystem, uuid.Nil)
				var gwErr *utils.GatewayError
				switch {
				case err == nil, errors.Is(err, utils.ErrSettlementPending):
					released.Inc()
				case errors.Is(err, utils.ErrConcurrencyConflict),
					utils.IsTransitionReason(err, utils.ReasonWrongState),
					utils.IsTransitionReason(err, utils.ReasonNotDue):
					schedLog.Debugw("auto-release skipped", "transaction", id, "err", err)
				case errors.As(err, &gwErr):
					schedLog.Warnw("auto-release payout failed", "transaction", id, "err", err)
				default:
					schedLog.Errorw("auto-release", "transaction", id, "err", err)
				}
				return nil
			})
		}
		return g.Wait()
	})
	if n := released.Load(); n > 0 {
		schedLog.Infow("auto-release sweep", "released", n)
	}
	return int(released.Load()), err
}

func (s *Scheduler) SweepRetries(ctx context.Context) (int, error) {
	var done int
	_, err := s.withLease(ctx, "payment_retry", &s.retryRunning, s.cfg.SweepInterval, func() error {
		var err error
		done, err = s.payments.ProcessDueRetries(ctx, sweepBatch)
		return err
	})
	if done > 0 {
		schedLog.Infow("payment retry sweep", "attempted", done)
	}
	return done, err
}

type reminderRule struct {
	event     string
	status    dbm.TransactionStatus
	column    string
	overdue   bool
	ttl       time.Duration
	recipient func(t *dbm.EscrowTransaction) []uuid.UUID
	deadline  func(t *dbm.EscrowTransaction) time.Time
}

var reminderRules = []reminderRule{
	{
		event: "reminder.payment_due", status: dbm.TxnPendingFunds, column: "payment_deadline", ttl: 25 * time.Hour,
		recipient: func(t *dbm.EscrowTransaction) []uuid.UUID { return []uuid.UUID{t.BuyerID} },
		deadline:  func(t *dbm.EscrowTransaction) time.Time { return t.PaymentDeadline },
	},
	{
		event: "reminder.delivery_due", status: dbm.TxnFundsHeld, column: "delivery_deadline", ttl: 25 * time.Hour,
		recipient: func(t *dbm.EscrowTransaction) []uuid.UUID { return []uuid.UUID{t.SellerID} },
		deadline:  func(t *dbm.EscrowTransaction) time.Time { return t.DeliveryDeadline },
	},
	{
		event: "reminder.auto_release", status: dbm.TxnDelivered, column: "auto_release_date", ttl: 25 * time.Hour,
		recipient: func(t *dbm.EscrowTransaction) []uuid.UUID { return []uuid.UUID{t.BuyerID} },
		deadline: func(t *dbm.EscrowTransaction) time.Time {
			if t.AutoReleaseDate == nil {
				return time.Time{}
			}
			return *t.AutoReleaseDate
		},
	},
	{
		event: "overdue.payment", status: dbm.TxnPendingFunds, column: "payment_deadline", overdue: true, ttl: overdueWindow + time.Hour,
		recipient: participants,
		deadline:  func(t *dbm.EscrowTransaction) time.Time { return t.PaymentDeadline },
	},
	{
		event: "overdue.delivery", status: dbm.TxnFundsHeld, column: "delivery_deadline", overdue: true, ttl: overdueWindow + time.Hour,
		recipient: participants,
		deadline:  func(t *dbm.EscrowTransaction) time.Time { return t.DeliveryDeadline },
	},
}

// SweepReminders warns participants a day before a deadline and once after
// it passes. Each reminder is sent once per transaction.
func (s *Scheduler) SweepReminders(ctx context.Context) (int, error) {
	var sent int
	_, err := s.withLease(ctx, "reminders", &s.reminderRunning, s.cfg.ReminderInterval, func() error {
		now := s.now()
		for _, rule := range reminderRules {
			from, to := now, now.Add(reminderWindow)
			if rule.overdue {
				from, to = now.Add(-overdueWindow), now
			}
			items, err := s.txns.ListByDeadline(ctx, rule.status, rule.column, from, to)
			if err != nil {
				return err
			}
			for i := range items {
				t := &items[i]
				key := fmt.Sprintf("%s:%s", rule.event, t.ID)
				first, err := s.leases.Acquire(ctx, key, uuid.NewString(), rule.ttl)
				if err != nil {
					return err
				}
				if !first {
					continue
				}
				s.notifier.Notify(ctx, Event{
					Type:          rule.event,
					TransactionID: t.ID,
					Reference:     t.Reference,
					Recipients:    rule.recipient(t),
					Data: map[string]string{
						"title":    t.Title,
						"amount":   utils.FormatAmount(t.TotalAmount, t.Currency),
						"deadline": utils.FormatDisplayLocal(rule.deadline(t)),
					},
					OccurredAt: now,
				})
				sent++
			}
		}
		return nil
	})
	if sent > 0 {
		schedLog.Infow("reminder sweep", "sent", sent)
	}
	return sent, err
}
