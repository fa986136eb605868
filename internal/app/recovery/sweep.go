package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.uber.org/zap"
)

const sweepBatch = 200

var sweepDetails = map[string]string{"trigger": "sweep"}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned int
	Expired int
	// Raced counts claims another writer changed first. Any still past
	// their deadline are picked up by the next sweep.
	Raced int
}

// SweepExpired expires every pending or approved claim past its deadline.
// Concurrent sweeps are safe: each claim is expired by exactly one writer.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	defer func() { s.metrics.sweep(res) }()

	for {
		now := s.clock()
		batch, err := s.claims.ListPastDeadline(ctx, now, sweepBatch)
		if err != nil {
			return res, fmt.Errorf("list past-deadline claims: %w", err)
		}
		res.Scanned += len(batch)

		expired := 0
		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			updated, err := s.claims.CompareAndSwap(ctx, c.ID, c.Status, c.Version, claimstore.Update{
				Status:         models.ClaimExpired,
				ResolvedAt:     &now,
				ResolutionCode: recoverypolicy.CodeDeadlinePassed,
			})
			switch {
			case errors.Is(err, claimstore.ErrConflict):
				res.Raced++
			case err != nil:
				s.log.Warn("sweep could not expire claim",
					zap.String("claim_id", c.ID.Hex()),
					zap.Error(err))
			default:
				expired++
				s.recordTransition(ctx, c, updated, audit.EventClaimExpired, auditlog.SystemActor(), recoverypolicy.CodeDeadlinePassed, sweepDetails)
			}
		}
		res.Expired += expired

		if len(batch) < sweepBatch || expired == 0 {
			break
		}
	}

	if res.Expired > 0 || res.Raced > 0 {
		s.log.Info("claim sweep finished",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", res.Expired),
			zap.Int("raced", res.Raced))
	}
	return res, nil
}
