package recovery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/app/store/challenges"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/normalize"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// VerifyChallenge approves an email challenge claim when token is its live
// challenge. Only the claimant may verify. A consumed, wrong or expired
// token, or a claim that is no longer pending, fails with
// ErrChallengeInvalidOrExpired.
func (s *Service) VerifyChallenge(ctx context.Context, claimID, actorID primitive.ObjectID, token string) (ClaimView, error) {
	const op = "verify_challenge"
	actor := auditlog.UserActor(actorID, audit.ActorClaimant)
	token = normalize.Token(token)

	var c models.AdminClaim
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, claimID); err != nil {
			return err
		}
		return s.checkChallengeClaim(ctx, c, actorID, ErrChallengeInvalidOrExpired)
	})
	if err != nil {
		return ClaimView{}, s.rejectChallenge(ctx, op, c, actor, err)
	}
	if token == "" {
		return ClaimView{}, s.rejectChallenge(ctx, op, c, actor, ErrChallengeInvalidOrExpired)
	}

	// Each check counts as an attempt, so it is not retried.
	ok, err := s.challenges.CheckChallenge(ctx, c.ID, token)
	if err != nil {
		return ClaimView{}, fmt.Errorf("%w: verify challenge: %v", ErrTransientStore, err)
	}
	if !ok {
		return ClaimView{}, s.rejectChallenge(ctx, op, c, actor, ErrChallengeInvalidOrExpired)
	}

	err = s.retry(ctx, op, func(ctx context.Context) error {
		return s.txn.Run(ctx, func(tctx context.Context) error {
			cur, err := s.loadClaim(tctx, claimID)
			if err != nil {
				return err
			}
			now := s.clock()
			if cur.Status != models.ClaimPending || cur.PastDeadline(now) {
				return ErrChallengeInvalidOrExpired
			}

			hasAdmin, err := s.members.HasActiveAdmin(tctx, cur.FamilyID)
			if err != nil {
				return err
			}
			var (
				u     claimstore.Update
				event string
				code  string
			)
			if hasAdmin {
				u = claimstore.Update{Status: models.ClaimDenied, ResolvedAt: &now, ResolutionCode: recoverypolicy.CodeFamilyHasAdmin}
				event, code = audit.EventClaimDenied, recoverypolicy.CodeFamilyHasAdmin
			} else {
				w := s.policy.ApprovalWindow(now, cur.ExpiresAt)
				u = claimstore.Update{Status: models.ClaimApproved, CoolingOffUntil: &w.CoolingOffUntil, ExpiresAt: &w.ExpiresAt}
				event, code = audit.EventClaimApproved, recoverypolicy.CodeChallengePassed
			}

			updated, err := s.claims.CompareAndSwap(tctx, cur.ID, models.ClaimPending, cur.Version, u)
			if err != nil {
				return err
			}
			// The token is used up only once the claim has left pending, so a
			// failed attempt above leaves it valid for a retry.
			if err := s.challenges.ConsumeChallenge(tctx, cur.ID); err != nil {
				if mongo.SessionFromContext(tctx) != nil {
					return err
				}
				s.log.Warn("consume challenge after transition",
					zap.String("claim_id", cur.ID.Hex()), zap.Error(err))
			}
			s.audit.Recorded(tctx, cur, audit.EventChallengeVerified, actor, nil)
			s.recordTransition(tctx, cur, updated, event, actor, code, nil)
			c = updated
			return nil
		})
	})
	if err != nil {
		return ClaimView{}, s.rejectChallenge(ctx, op, c, actor, err)
	}
	return s.view(c), nil
}

// ResendChallenge issues a fresh token for a pending email challenge claim,
// invalidating the previous one. Resends are rate limited per claim.
func (s *Service) ResendChallenge(ctx context.Context, claimID, actorID primitive.ObjectID) (ClaimView, error) {
	const op = "resend_challenge"
	actor := auditlog.UserActor(actorID, audit.ActorClaimant)

	var (
		c          models.AdminClaim
		familyName string
	)
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, claimID); err != nil {
			return err
		}
		if err := s.checkChallengeClaim(ctx, c, actorID, ErrClaimNotPending); err != nil {
			return err
		}
		if f, err := s.families.GetByID(ctx, c.FamilyID); err == nil {
			familyName = f.Name
		}
		return nil
	})
	if err != nil {
		return ClaimView{}, s.rejectChallenge(ctx, op, c, actor, err)
	}

	switch err := s.deliverChallenge(ctx, c, familyName, true); {
	case errors.Is(err, ErrTooManyResends):
		s.metrics.rejection(op, err)
		s.audit.Rejected(ctx, c, audit.EventChallengeResendLimit, actor, Kind(err), nil)
		return ClaimView{}, err
	case errors.Is(err, ErrDeliveryFailed):
		s.metrics.rejection(op, err)
		return ClaimView{}, err
	case err != nil:
		return ClaimView{}, fmt.Errorf("%w: issue challenge: %v", ErrTransientStore, err)
	}
	return s.view(c), nil
}

// checkChallengeClaim applies the guards shared by verify and resend.
// notPending is the error for a claim that is no longer pending.
func (s *Service) checkChallengeClaim(ctx context.Context, c models.AdminClaim, actorID primitive.ObjectID, notPending error) error {
	if c.ClaimType != models.ClaimTypeEmailChallenge {
		return invalid("this claim is verified by endorsements, not email")
	}
	if c.ClaimantID != actorID {
		return ErrNotClaimant
	}
	if c.Status == models.ClaimPending && c.PastDeadline(s.clock()) {
		if _, _, err := s.expireIfPastDeadline(ctx, c); err != nil {
			return err
		}
		return notPending
	}
	if c.Status != models.ClaimPending {
		return notPending
	}
	return nil
}

// deliverChallenge issues a token and sends it to the claim's owner
// address. The token never outlives the claim.
func (s *Service) deliverChallenge(ctx context.Context, c models.AdminClaim, familyName string, resend bool) error {
	email := c.Metadata[MetaChallengeEmail]
	ttl := s.policy.ChallengeLifetime(s.clock(), c.ExpiresAt)

	token, err := s.challenges.IssueChallenge(ctx, c.ID, email, c.ExpiresAt, resend)
	if errors.Is(err, challenges.ErrTooManyResends) {
		return ErrTooManyResends
	}
	if err != nil {
		return err
	}

	details := map[string]string{
		"to":     maskEmail(email),
		"resend": strconv.FormatBool(resend),
	}
	if s.notifier != nil {
		if err := s.notifier.SendChallenge(ctx, email, familyName, c.ID.Hex(), token, ttl); err != nil {
			details["error"] = err.Error()
			s.audit.Rejected(ctx, c, audit.EventChallengeSendFailed, auditlog.SystemActor(), Kind(ErrDeliveryFailed), details)
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
	}
	s.audit.Recorded(ctx, c, audit.EventChallengeIssued, auditlog.SystemActor(), details)
	return nil
}

func (s *Service) rejectChallenge(ctx context.Context, op string, c models.AdminClaim, actor auditlog.Actor, err error) error {
	if c.ID.IsZero() || !isRejection(err) {
		s.metrics.rejection(op, err)
		return err
	}
	eventType := audit.EventChallengeFailed
	if op == "resend_challenge" {
		eventType = audit.EventClaimRejected
	}
	return s.reject(ctx, op, c, eventType, actor, err)
}
