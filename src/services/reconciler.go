package services

import (
	"context"
	"time"

	"github.com/username/crewledger/backend/src/audit"
	"github.com/username/crewledger/backend/src/logger"
	"github.com/username/crewledger/backend/src/models"
)

// Reconciler drains the pending-sync queue on a fixed interval, oldest first.
// Every attempt is an idempotent upsert keyed by record ID, so a retry of a
// record the ledger already accepted is harmless.
type Reconciler struct {
	punches   *PunchService
	interval  time.Duration
	batchSize int
	stop      chan struct{}
	done      chan struct{}
}

func NewReconciler(punches *PunchService, interval time.Duration) *Reconciler {
	return &Reconciler{
		punches:   punches,
		interval:  interval,
		batchSize: 50,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background loop. One pass runs immediately so a restart
// with a backlog does not wait a full interval.
func (r *Reconciler) Start() {
	go func() {
		defer close(r.done)
		logger.L.Info("Punch reconciler started", "interval", r.interval.String())
		r.RunOnce(context.Background())
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.RunOnce(context.Background())
			case <-r.stop:
				logger.L.Info("Punch reconciler stopped")
				return
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

// RunOnce processes one batch of queued records. Failures stay queued with
// their attempt count bumped; rejections leave the queue for good.
func (r *Reconciler) RunOnce(ctx context.Context) {
	pending, err := models.ListPendingSync(r.punches.db, r.batchSize)
	if err != nil {
		logger.L.Error("Failed to list pending punches", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	logger.L.Info("Reconciling queued punches", "count", len(pending))
	for i := range pending {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.punches.trySync(ctx, &pending[i], true)
	}
}

// RetentionSweeper periodically deletes audit entries past their retention
// period. Entries under legal hold or in a non-auto-delete category are never
// touched.
type RetentionSweeper struct {
	sink     *audit.Sink
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewRetentionSweeper(sink *audit.Sink, interval time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *RetentionSweeper) Start() {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.sink.Sweep(time.Now().UTC()); err != nil {
					logger.L.Error("Audit retention sweep failed", "error", err)
				}
			case <-w.stop:
				return
			}
		}
	}()
}

func (w *RetentionSweeper) Stop() {
	close(w.stop)
	<-w.done
}
