package recovery

import (
	"context"
	"errors"
	"strconv"

	"github.com/cenkalti/backoff/v5"
	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	endorsementstore "github.com/dalemusser/familyspace/internal/app/store/endorsements"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/htmlsanitize"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// maxCASAttempts bounds the re-read and swap loop used when counting a vote
// without a transaction. Every lost round means another writer won, so the
// loop always makes progress.
const maxCASAttempts = 25

// EndorseInput is a vote on an endorsement claim.
type EndorseInput struct {
	ClaimID    primitive.ObjectID
	EndorserID primitive.ObjectID
	Type       models.EndorsementType
	Reason     string
}

// SubmitEndorsement records a peer's vote and applies the decision rules.
// The vote and its effect on the claim commit together; exactly one vote
// moves a claim out of pending.
func (s *Service) SubmitEndorsement(ctx context.Context, in EndorseInput) (ClaimView, error) {
	const op = "submit_endorsement"
	actor := auditlog.UserActor(in.EndorserID, audit.ActorEndorser)

	if !in.Type.Valid() {
		err := invalid(`endorsement type must be "support" or "oppose"`)
		s.metrics.rejection(op, err)
		return ClaimView{}, err
	}
	in.Reason = htmlsanitize.Reason(in.Reason, s.policy.ReasonMaxLength)

	var c models.AdminClaim
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, in.ClaimID); err != nil {
			return err
		}
		if err := s.checkEndorsable(ctx, c, in.EndorserID); err != nil {
			return err
		}

		return s.txn.Run(ctx, func(tctx context.Context) error {
			vote, err := s.endorsements.Insert(tctx, models.Endorsement{
				ClaimID:         c.ID,
				FamilyID:        c.FamilyID,
				EndorserID:      in.EndorserID,
				EndorsementType: in.Type,
				Reason:          in.Reason,
			})
			if errors.Is(err, endorsementstore.ErrDuplicateEndorsement) {
				return ErrDuplicateEndorsement
			}
			if err != nil {
				return err
			}

			updated, err := s.countVote(tctx, c.ID, vote, actor)
			if err != nil {
				if derr := s.endorsements.Delete(tctx, vote.ID); derr != nil {
					s.log.Warn("could not remove uncounted vote",
						zap.String("claim_id", c.ID.Hex()),
						zap.String("endorser_id", in.EndorserID.Hex()),
						zap.Error(derr))
				}
				return err
			}
			s.audit.Recorded(tctx, updated, audit.EventEndorsementRecorded, actor,
				map[string]string{"endorsement_type": string(in.Type)})
			c = updated
			return nil
		})
	})
	if err != nil {
		return ClaimView{}, s.rejectVote(ctx, op, c, actor, err)
	}
	return s.view(c), nil
}

// UpdateEndorsement changes an existing vote. Oppose may become support and
// the reason may be edited; a support vote stays support so the endorsement
// count never drops while the claim is pending.
func (s *Service) UpdateEndorsement(ctx context.Context, in EndorseInput) (ClaimView, error) {
	const op = "update_endorsement"
	actor := auditlog.UserActor(in.EndorserID, audit.ActorEndorser)

	if !in.Type.Valid() {
		err := invalid(`endorsement type must be "support" or "oppose"`)
		s.metrics.rejection(op, err)
		return ClaimView{}, err
	}
	in.Reason = htmlsanitize.Reason(in.Reason, s.policy.ReasonMaxLength)

	var c models.AdminClaim
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, in.ClaimID); err != nil {
			return err
		}
		if err := s.checkEndorsable(ctx, c, in.EndorserID); err != nil {
			return err
		}
		prev, err := s.endorsements.Get(ctx, c.ID, in.EndorserID)
		if errors.Is(err, endorsementstore.ErrNotFound) {
			return ErrEndorsementNotFound
		}
		if err != nil {
			return err
		}
		if prev.EndorsementType == models.EndorsementSupport && in.Type == models.EndorsementOppose {
			return ErrSupportFinal
		}

		return s.txn.Run(ctx, func(tctx context.Context) error {
			vote, err := s.endorsements.Update(tctx, c.ID, in.EndorserID, in.Type, in.Reason)
			if errors.Is(err, endorsementstore.ErrNotFound) {
				return ErrEndorsementNotFound
			}
			if err != nil {
				return err
			}

			updated, err := s.recountVote(tctx, c.ID, prev, vote, actor)
			if err != nil {
				if _, rerr := s.endorsements.Update(tctx, c.ID, in.EndorserID, prev.EndorsementType, prev.Reason); rerr != nil {
					s.log.Warn("could not restore previous vote",
						zap.String("claim_id", c.ID.Hex()),
						zap.String("endorser_id", in.EndorserID.Hex()),
						zap.Error(rerr))
				}
				return err
			}
			s.audit.Recorded(tctx, updated, audit.EventEndorsementUpdated, actor, map[string]string{
				"from": string(prev.EndorsementType),
				"to":   string(vote.EndorsementType),
			})
			c = updated
			return nil
		})
	})
	if err != nil {
		return ClaimView{}, s.rejectVote(ctx, op, c, actor, err)
	}
	return s.view(c), nil
}

// ListEndorsements returns the votes on a claim, oldest first. The caller
// must be the claimant or a family member.
func (s *Service) ListEndorsements(ctx context.Context, claimID, callerID primitive.ObjectID) ([]models.Endorsement, error) {
	var out []models.Endorsement
	err := s.retry(ctx, "list_endorsements", func(ctx context.Context) error {
		c, err := s.loadClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if err := s.canView(ctx, c, callerID); err != nil {
			return err
		}
		out, err = s.endorsements.ListByClaim(ctx, claimID)
		return err
	})
	if out == nil && err == nil {
		out = []models.Endorsement{}
	}
	return out, err
}

// checkEndorsable applies the voter and claim guards, in the order callers
// see them: claim type, self vote, claim state, membership.
func (s *Service) checkEndorsable(ctx context.Context, c models.AdminClaim, endorserID primitive.ObjectID) error {
	if c.ClaimType != models.ClaimTypeEndorsement {
		return invalid("this claim is verified by email and takes no endorsements")
	}
	if c.ClaimantID == endorserID {
		return ErrSelfEndorsement
	}
	if c.Status == models.ClaimPending && c.PastDeadline(s.clock()) {
		if _, _, err := s.expireIfPastDeadline(ctx, c); err != nil {
			return err
		}
		return ErrClaimNotPending
	}
	if c.Status != models.ClaimPending {
		return ErrClaimNotPending
	}
	member, err := s.members.IsMember(ctx, c.FamilyID, endorserID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}
	return nil
}

// countVote adds a freshly inserted vote to the claim's counters. A vote
// already listed in counted_endorsers is not added twice.
func (s *Service) countVote(ctx context.Context, claimID primitive.ObjectID, vote models.Endorsement, actor auditlog.Actor) (models.AdminClaim, error) {
	return s.swapLoop(ctx, "count_vote", func(ctx context.Context) (models.AdminClaim, error) {
		c, err := s.loadClaim(ctx, claimID)
		if err != nil {
			return c, err
		}
		if c.Counted(vote.EndorserID) {
			return c, nil
		}
		if c.Status != models.ClaimPending || c.PastDeadline(s.clock()) {
			return c, ErrClaimNotPending
		}
		support, oppose := c.EndorsementsReceived, c.OppositionsReceived
		if vote.EndorsementType == models.EndorsementSupport {
			support++
		} else {
			oppose++
		}
		voter := vote.EndorserID
		return s.applyTally(ctx, c, support, oppose, &voter, actor)
	})
}

// recountVote applies a changed vote to the counters.
func (s *Service) recountVote(ctx context.Context, claimID primitive.ObjectID, prev, vote models.Endorsement, actor auditlog.Actor) (models.AdminClaim, error) {
	return s.swapLoop(ctx, "recount_vote", func(ctx context.Context) (models.AdminClaim, error) {
		c, err := s.loadClaim(ctx, claimID)
		if err != nil {
			return c, err
		}
		if c.Status != models.ClaimPending || c.PastDeadline(s.clock()) {
			return c, ErrClaimNotPending
		}

		support, oppose := c.EndorsementsReceived, c.OppositionsReceived
		if !c.Counted(vote.EndorserID) {
			// The original submit failed after inserting; count it now.
			if vote.EndorsementType == models.EndorsementSupport {
				support++
			} else {
				oppose++
			}
			voter := vote.EndorserID
			return s.applyTally(ctx, c, support, oppose, &voter, actor)
		}
		if prev.EndorsementType == vote.EndorsementType {
			return c, nil
		}
		// Only oppose -> support reaches here.
		oppose--
		support++
		return s.applyTally(ctx, c, support, oppose, nil, actor)
	})
}

// applyTally writes new counters onto a pending claim and, when the policy
// decides, moves it to approved or denied in the same swap. Approval
// re-checks that the family is still orphaned.
func (s *Service) applyTally(ctx context.Context, c models.AdminClaim, support, oppose int, voter *primitive.ObjectID, actor auditlog.Actor) (models.AdminClaim, error) {
	now := s.clock()
	u := claimstore.Update{
		EndorsementsReceived: &support,
		OppositionsReceived:  &oppose,
		AddCounted:           voter,
	}

	var event, code string
	switch s.policy.Evaluate(support, oppose, c.EndorsementsRequired) {
	case recoverypolicy.Approve:
		hasAdmin, err := s.members.HasActiveAdmin(ctx, c.FamilyID)
		if err != nil {
			return c, err
		}
		if hasAdmin {
			u.Status, u.ResolvedAt, u.ResolutionCode = models.ClaimDenied, &now, recoverypolicy.CodeFamilyHasAdmin
			event, code = audit.EventClaimDenied, recoverypolicy.CodeFamilyHasAdmin
			break
		}
		w := s.policy.ApprovalWindow(now, c.ExpiresAt)
		u.Status, u.CoolingOffUntil, u.ExpiresAt = models.ClaimApproved, &w.CoolingOffUntil, &w.ExpiresAt
		event, code = audit.EventClaimApproved, recoverypolicy.CodeQuorumReached
	case recoverypolicy.Deny:
		u.Status, u.ResolvedAt, u.ResolutionCode = models.ClaimDenied, &now, recoverypolicy.CodeOpposed
		event, code = audit.EventClaimDenied, recoverypolicy.CodeOpposed
	}

	updated, err := s.claims.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, u)
	if err != nil {
		return c, err
	}
	if event != "" {
		s.recordTransition(ctx, c, updated, event, actor, code, map[string]string{
			"support": strconv.Itoa(support),
			"oppose":  strconv.Itoa(oppose),
		})
	}
	return updated, nil
}

// swapLoop retries fn on claimstore.ErrConflict. Inside a transaction a
// conflict aborts the whole attempt instead, so fn runs once.
func (s *Service) swapLoop(ctx context.Context, name string, fn func(ctx context.Context) (models.AdminClaim, error)) (models.AdminClaim, error) {
	tries := uint(maxCASAttempts)
	if s.txn.Enabled() {
		tries = 1
	}
	var last models.AdminClaim
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		c, err := fn(ctx)
		last = c
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, claimstore.ErrConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		s.metrics.retry(name)
		return struct{}{}, err
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(tries))
	return last, err
}

func (s *Service) rejectVote(ctx context.Context, op string, c models.AdminClaim, actor auditlog.Actor, err error) error {
	if c.ID.IsZero() || !isRejection(err) {
		s.metrics.rejection(op, err)
		return err
	}
	return s.reject(ctx, op, c, audit.EventEndorsementRejected, actor, err)
}
