package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aurora-is-near/aurora-forwarder/internal/bridge"
	"github.com/aurora-is-near/aurora-forwarder/internal/forwarder"
	"github.com/aurora-is-near/aurora-forwarder/internal/models"
)

// DefaultPollInterval is how often pending transfers are polled when no
// interval is configured.
const DefaultPollInterval = 10 * time.Second

// Settler delivers settled bridge outcomes back to their forwarders. It is
// the runtime's callback path: forwarders never poll the bridge themselves,
// they park in FORWARDING until the settler hands them an outcome.
type Settler struct {
	forwarders *forwarder.Service
	store      forwarder.Store
	bridge     bridge.Bridge
	interval   time.Duration
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSettler creates a settlement worker.
func NewSettler(
	forwarders *forwarder.Service,
	store forwarder.Store,
	br bridge.Bridge,
	interval time.Duration,
	logger *zap.Logger,
) *Settler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Settler{
		forwarders: forwarders,
		store:      store,
		bridge:     br,
		interval:   interval,
		logger:     logger.Named("settler"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the polling goroutine.
func (s *Settler) Start() {
	s.logger.Info("Starting settlement worker",
		zap.Duration("poll_interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx)
	}()
}

// Shutdown stops the worker, waiting up to timeout for the current tick.
func (s *Settler) Shutdown(timeout time.Duration) error {
	s.logger.Info("Shutting down settlement worker")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Settlement worker stopped gracefully")
	case <-time.After(timeout):
		s.logger.Warn("Settlement worker shutdown timed out")
	}
	return nil
}

func (s *Settler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick polls the bridge for every in-flight transfer and delivers any
// settled outcome. A transfer that never resolves simply stays pending;
// there is no timeout on the FORWARDING state.
func (s *Settler) tick(ctx context.Context) {
	pending, err := s.store.ListByState(ctx, models.StateForwarding)
	if err != nil {
		s.logger.Error("Failed to list pending forwarders", zap.Error(err))
		return
	}

	for _, rec := range pending {
		if rec.PendingTransferID == "" {
			continue
		}

		outcome, ok, err := s.bridge.PollOutcome(ctx, rec.PendingTransferID)
		if err != nil {
			s.logger.Error("Failed to poll bridge outcome",
				zap.String("account_id", rec.AccountID),
				zap.String("transfer_id", rec.PendingTransferID),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		// Unacknowledged outcomes are redelivered, so a failed application
		// here is simply retried on the next tick.
		if _, err := s.forwarders.OnBridgeResult(ctx, outcome); err != nil {
			s.logger.Error("Failed to apply bridge outcome",
				zap.String("account_id", rec.AccountID),
				zap.String("transfer_id", outcome.TransferID),
				zap.Error(err))
			continue
		}

		if err := s.bridge.Ack(ctx, outcome.TransferID); err != nil {
			s.logger.Error("Failed to acknowledge bridge outcome",
				zap.String("transfer_id", outcome.TransferID),
				zap.Error(err))
		}

		s.logger.Info("Bridge outcome delivered",
			zap.String("account_id", rec.AccountID),
			zap.String("transfer_id", outcome.TransferID),
			zap.Bool("success", outcome.Success))
	}
}
