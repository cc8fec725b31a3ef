package keypay

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/keypay/keypay/internal/config"
	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/internal/verifier"
	"github.com/keypay/keypay/pkg/logger"
)

// PaymentVerifier searches the chain for a transfer satisfying a request.
type PaymentVerifier interface {
	Verify(ctx context.Context, req verifier.Request) (*verifier.Result, error)
}

// WalletConfig supplies the current pay address and base price.
type WalletConfig interface {
	PayAddress() string
	BasePrice() decimal.Decimal
}

// Keypay is the main struct for the keypay application.
// It owns the order lifecycle and license issuance and runs the background workers.
type Keypay struct {
	logger *logger.Logger
	config *config.Config
	now    func() time.Time

	repo        models.Repository
	verifier    PaymentVerifier
	wallets     WalletConfig
	notificator models.NotificationService

	// wg tracks workers and in-flight notifications
	wg sync.WaitGroup
}

// NewKeypay creates a new Keypay instance
func NewKeypay(
	repo models.Repository,
	verifier PaymentVerifier,
	wallets WalletConfig,
	notificator models.NotificationService,
	logger *logger.Logger,
	config *config.Config,
) *Keypay {
	return &Keypay{
		repo:        repo,
		verifier:    verifier,
		wallets:     wallets,
		notificator: notificator,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// Start launches the pending-order poller and the order expirer.
// Both stop when ctx is cancelled.
func (k *Keypay) Start(ctx context.Context) {
	k.safeGo("expirer", func() { k.runEvery(ctx, "expirer", k.config.ExpireInterval(), k.expireOrders) })
	k.safeGo("poller", func() { k.runEvery(ctx, "poller", k.config.PollInterval(), k.pollPending) })
}

// Wait blocks until the workers have stopped and every pending notification
// has been handed to the notifier. Cancel the Start context first.
func (k *Keypay) Wait() {
	k.wg.Wait()
}

// safeGo runs fn in a tracked goroutine and recovers from panics.
func (k *Keypay) safeGo(name string, fn func()) {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				k.logger.Errorw("Recovered from panic", "task", name, "panic", r)
			}
		}()
		fn()
	}()
}

func (k *Keypay) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	log := k.logger.With("worker", name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infow("Worker started", "interval", interval)
	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			log.Infow("Worker stopped")
			return
		}
	}
}

// pollPending verifies every pending, unexpired order once.
func (k *Keypay) pollPending(ctx context.Context) {
	orders, err := k.repo.FindOrders(ctx, models.OrderQuery{
		Status:       models.OrderPending,
		Chain:        models.ChainTRC20,
		ExpiresAfter: k.now(),
	})
	if err != nil {
		k.logger.Errorw("Failed to load pending orders", "error", err)
		return
	}
	k.logger.Debugw("Polling pending orders", "count", len(orders))

	for _, order := range orders {
		if ctx.Err() != nil {
			return
		}
		result, err := k.verify(ctx, order)
		if err != nil {
			k.logger.Warnw("Background verification failed", "order", order.ID, "error", err)
			continue
		}
		if result.Confirmed {
			k.logger.Infow("Order confirmed by poller", "order", order.ID, "txid", result.TxID)
		}
	}
}

// expireOrders marks pending orders past their expiry as expired.
func (k *Keypay) expireOrders(ctx context.Context) {
	orders, err := k.repo.FindOrders(ctx, models.OrderQuery{
		Status:        models.OrderPending,
		ExpiresBefore: k.now(),
	})
	if err != nil {
		k.logger.Errorw("Failed to load expired orders", "error", err)
		return
	}

	expired := models.OrderExpired
	for _, order := range orders {
		if order.LicenseKey != "" {
			continue
		}
		if _, err := k.repo.UpdateOrder(ctx, order.ID, models.OrderUpdate{Status: &expired}); err != nil {
			k.logger.Errorw("Failed to expire order", "order", order.ID, "error", err)
			continue
		}
		k.logger.Debugw("Order expired", "order", order.ID)
	}
}

func (k *Keypay) PayAddress() string {
	return k.wallets.PayAddress()
}

func (k *Keypay) notify(n *models.Notification) {
	if k.notificator == nil {
		return
	}
	k.logger.Infow("Sending notification", "kind", n.Kind, "order", n.OrderID)
	k.safeGo("notify", func() { k.notificator.SendNotification(n) })
}

func requireCaller(caller *models.Principal) error {
	if caller == nil || caller.ID == "" {
		return models.ErrUnauthorized
	}
	return nil
}

func requireAdmin(caller *models.Principal) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if !caller.IsSuperAdmin {
		return models.ErrForbidden
	}
	return nil
}
