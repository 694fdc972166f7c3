package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/antigravity-dev/gravity/pkg/models"
)

// sweepLoop reclaims tasks whose heartbeat lapsed past the lease. A task
// this process owns is skipped: its engine or the heartbeat loop is
// responsible for keeping the lease fresh.
func (o *Orchestrator) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.sweep()
		}
	}
}

func (o *Orchestrator) sweep() {
	cutoff := o.now().Add(-o.leaseDuration)
	stale, err := o.store.StaleRunningTasks(cutoff)
	if err != nil {
		log.Printf("[orchestrator] sweep: %v", err)
		return
	}
	for i := range stale {
		task := &stale[i]
		if o.owned(task.ID) {
			continue
		}
		msg := fmt.Sprintf("lease expired: no heartbeat since %s", task.Heartbeat.Format(time.RFC3339))
		if task.Heartbeat.IsZero() {
			msg = "lease expired: no heartbeat recorded"
		}
		applied, err := o.store.FailTask(task.ID, models.ErrKindLeaseExpired, msg, o.now())
		if err != nil {
			log.Printf("[orchestrator] task %s: reclaim lease: %v", task.ID, err)
			continue
		}
		if !applied {
			continue
		}
		log.Printf("[orchestrator] task %s reclaimed: %s", task.ID, msg)
		o.publishFailure(task.ID, models.ErrKindLeaseExpired, msg)
		if task.ParentID != "" {
			o.parentDone(task.ParentID)
		}
	}
}

// heartbeatLoop renews the lease of parked parents. In-flight tasks are
// heartbeated by their own engine.
func (o *Orchestrator) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.heartbeatWaiting()
		}
	}
}

func (o *Orchestrator) heartbeatWaiting() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.waiting))
	for id := range o.waiting {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		applied, err := o.store.HeartbeatTask(id, o.now())
		if err != nil {
			log.Printf("[orchestrator] task %s: heartbeat: %v", id, err)
			continue
		}
		if !applied {
			// Left the running statuses: nothing to keep alive.
			o.mu.Lock()
			delete(o.waiting, id)
			o.mu.Unlock()
		}
	}
}
