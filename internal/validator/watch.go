package validator

import (
	"context"
	"log"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/pkg/models"
)

// ValidationBudget bounds one epoch's validation run. It leaves headroom
// before the following epoch closes so weight publication never races the
// next cycle.
const ValidationBudget = models.EpochDuration - 30*time.Minute

// Watch validates each epoch shortly after its window closes, on the same
// UTC grid the coordinator rotates on. Requires a database connection for
// the frozen epoch records; without one the loop refuses to start.
func (r *Runner) Watch(ctx context.Context) {
	if r.DB == nil {
		log.Printf("[Validator %s] No database connection, validation loop disabled", r.ValidatorID)
		return
	}
	log.Printf("[Validator %s] Watching for closed epochs...", r.ValidatorID)

	for {
		boundary := time.Now().UTC().Truncate(models.EpochDuration).Add(models.EpochDuration)
		fireAt := boundary.Add(coordinator.StatusGrace)
		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Printf("[Validator %s] Stopping validation loop...", r.ValidatorID)
			return
		case <-timer.C:
		}

		epochID := models.EpochIDFor(boundary.Add(-models.EpochDuration))
		epoch, err := r.DB.GetEpoch(ctx, epochID)
		if err != nil {
			log.Printf("[Validator %s] No epoch record for %s: %v", r.ValidatorID, epochID, err)
			continue
		}
		if epoch.Status == models.EpochAborted {
			log.Printf("[Validator %s] Epoch %s aborted, skipping", r.ValidatorID, epochID)
			continue
		}

		runCtx, cancel := context.WithTimeout(ctx, ValidationBudget)
		_, verdict, err := r.ValidateEpoch(runCtx, epoch)
		cancel()
		if err != nil {
			log.Printf("[Validator %s] Epoch %s validation failed: %v", r.ValidatorID, epochID, err)
			continue
		}
		log.Printf("[Validator %s] Epoch %s: consensus %s (agreement %.2f, %d outliers)",
			r.ValidatorID, epochID, verdict.Outcome, verdict.Agreement, len(verdict.Outliers))
	}
}
