package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type grantOutcome int

const (
	grantDone grantOutcome = iota
	grantExpired
	grantSuperseded
)

// GrantAdminRights completes an approved claim once its cooling-off period
// has elapsed: the claim becomes completed and the claimant becomes a family
// admin, or neither happens.
//
// A claim found past its deadline is expired, and one whose family has
// regained an admin is denied; both return ErrNotApproved.
func (s *Service) GrantAdminRights(ctx context.Context, claimID, actorID primitive.ObjectID) (ClaimView, error) {
	const op = "grant_admin_rights"
	actor := auditlog.UserActor(actorID, audit.ActorClaimant)

	var (
		c       models.AdminClaim
		outcome grantOutcome
	)
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, claimID); err != nil {
			return err
		}
		if c.ClaimantID != actorID {
			return ErrNotClaimant
		}

		return s.txn.Run(ctx, func(tctx context.Context) error {
			cur, err := s.loadClaim(tctx, claimID)
			if err != nil {
				return err
			}
			c = cur
			now := s.clock()

			if cur.Status != models.ClaimApproved {
				return ErrNotApproved
			}
			if cur.CoolingOffUntil != nil && now.Before(*cur.CoolingOffUntil) {
				return ErrCoolingOffActive
			}
			if cur.PastDeadline(now) {
				updated, err := s.claims.CompareAndSwap(tctx, cur.ID, models.ClaimApproved, cur.Version, claimstore.Update{
					Status:         models.ClaimExpired,
					ResolvedAt:     &now,
					ResolutionCode: recoverypolicy.CodeDeadlinePassed,
				})
				if err != nil {
					return err
				}
				s.recordTransition(tctx, cur, updated, audit.EventClaimExpired, auditlog.SystemActor(), recoverypolicy.CodeDeadlinePassed, nil)
				c, outcome = updated, grantExpired
				return nil
			}

			hasAdmin, err := s.members.HasActiveAdmin(tctx, cur.FamilyID)
			if err != nil {
				return err
			}
			if hasAdmin {
				updated, err := s.claims.CompareAndSwap(tctx, cur.ID, models.ClaimApproved, cur.Version, claimstore.Update{
					Status:         models.ClaimDenied,
					ResolvedAt:     &now,
					ResolutionCode: recoverypolicy.CodeFamilyHasAdmin,
				})
				if err != nil {
					return err
				}
				s.recordTransition(tctx, cur, updated, audit.EventClaimDenied, auditlog.SystemActor(), recoverypolicy.CodeFamilyHasAdmin, nil)
				c, outcome = updated, grantSuperseded
				return nil
			}

			completed, err := s.claims.CompareAndSwap(tctx, cur.ID, models.ClaimApproved, cur.Version, claimstore.Update{
				Status:         models.ClaimCompleted,
				ClaimedAt:      &now,
				ResolvedAt:     &now,
				ResolutionCode: recoverypolicy.CodeGranted,
			})
			if err != nil {
				return err
			}
			if err := s.members.GrantRole(tctx, cur.FamilyID, cur.ClaimantID, RoleAdmin); err != nil {
				s.revertGrant(tctx, completed)
				s.audit.Rejected(ctx, cur, audit.EventGrantFailed, actor, Kind(ErrTransientStore),
					map[string]string{"error": err.Error()})
				return retryableError{fmt.Errorf("grant role: %w", err)}
			}
			s.recordTransition(tctx, cur, completed, audit.EventClaimCompleted, actor, recoverypolicy.CodeGranted, nil)
			c, outcome = completed, grantDone
			return nil
		})
	})
	if err != nil {
		if c.ID.IsZero() || !isRejection(err) {
			s.metrics.rejection(op, err)
			return ClaimView{}, err
		}
		return ClaimView{}, s.reject(ctx, op, c, audit.EventGrantRejected, actor, err)
	}

	switch outcome {
	case grantExpired, grantSuperseded:
		s.metrics.rejection(op, ErrNotApproved)
		return s.view(c), ErrNotApproved
	}
	s.log.Info("admin rights granted",
		zap.String("claim_id", c.ID.Hex()),
		zap.String("family_id", c.FamilyID.Hex()),
		zap.String("user_id", c.ClaimantID.Hex()))
	return s.view(c), nil
}

// revertGrant puts a completed claim back to approved after the role write
// failed. Inside a transaction the abort already undoes the claim write and
// this swap is rolled back with it.
func (s *Service) revertGrant(ctx context.Context, completed models.AdminClaim) {
	_, err := backoff.Retry(ctx, func() (models.AdminClaim, error) {
		c, err := s.claims.CompareAndSwap(ctx, completed.ID, models.ClaimCompleted, completed.Version, claimstore.Update{
			Status:          models.ClaimApproved,
			ClearResolution: true,
		})
		if errors.Is(err, claimstore.ErrConflict) {
			return c, backoff.Permanent(err)
		}
		return c, err
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(uint(s.policy.RetryAttempts)))
	if err == nil {
		return
	}
	if s.txn.Enabled() {
		s.log.Debug("grant revert skipped; transaction abort restores the claim",
			zap.String("claim_id", completed.ID.Hex()), zap.Error(err))
		return
	}
	s.log.Error("could not revert claim after failed grant",
		zap.String("claim_id", completed.ID.Hex()),
		zap.Error(err))
}
