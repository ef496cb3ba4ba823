package usecase

import (
	"context"
	"log"
	"time"
)

// PolicyReloader is implemented by policy sources that can re-read their
// backing document.
type PolicyReloader interface {
	Reload() error
}

// Reconciler is the periodic maintenance task: decay recovery for eligible
// readers, expired tag-suspicion cleanup, nonce pruning, and a policy
// re-read so edits land without a restart. It is owned by the process
// lifecycle: Start launches it, Stop (or context cancellation) halts it.
// Trust mutations go through the same serialized-per-reader path as the
// request handlers.
type Reconciler struct {
	Trust      TrustRepository
	Nonces     NonceRepository
	Suspicions SuspicionRepository
	Ledger     *TrustLedger
	Policy     PolicySource
	Reloader   PolicyReloader
	Interval   time.Duration
	Clock      Clock

	stop chan struct{}
	done chan struct{}
}

func (r *Reconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Reconciler) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			case <-ticker.C:
				if err := r.RunOnce(ctx); err != nil {
					log.Printf("reconciler sweep failed: %v", err)
				}
			}
		}
	}()
}

func (r *Reconciler) Stop() {
	if r.stop == nil {
		return
	}
	close(r.stop)
	<-r.done
	r.stop = nil
}

// RunOnce performs a single sweep. Split out so tests and operators can
// drive it directly.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	if r.Reloader != nil {
		if err := r.Reloader.Reload(); err != nil {
			// Keep serving the previous snapshot; a bad edit must not take
			// the sweep down with it.
			log.Printf("policy reload failed, keeping current snapshot: %v", err)
		}
	}
	p := r.Policy.Snapshot()
	now := r.now()

	readers, err := r.Trust.ListRecoverable(ctx, p.MaxRecoveryCap)
	if err != nil {
		return err
	}
	recoveredReaders := 0
	for _, readerID := range readers {
		points, err := r.Ledger.RecoverByDecay(ctx, readerID)
		if err != nil {
			return err
		}
		if points > 0 {
			recoveredReaders++
		}
	}

	expired, err := r.Suspicions.DeleteExpired(ctx, now)
	if err != nil {
		return err
	}
	pruned, err := r.Nonces.PruneBefore(ctx, now.Add(-time.Duration(p.NoncePruneSeconds)*time.Second))
	if err != nil {
		return err
	}
	if recoveredReaders > 0 || expired > 0 || pruned > 0 {
		log.Printf("reconciler: recovered=%d suspicions_expired=%d nonces_pruned=%d", recoveredReaders, expired, pruned)
	}
	return nil
}
