package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	familystore "github.com/dalemusser/familyspace/internal/app/store/families"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/htmlsanitize"
	"github.com/dalemusser/familyspace/internal/app/system/inputval"
	"github.com/dalemusser/familyspace/internal/app/system/normalize"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// historyLimit caps the audit entries returned for one claim.
const historyLimit = 500

// SubmitInput is a request to open a claim.
type SubmitInput struct {
	FamilyID   primitive.ObjectID
	ClaimantID primitive.ObjectID
	Type       models.ClaimType
	Reason     string
	// OwnerEmail is required for email challenge claims and ignored otherwise.
	OwnerEmail string
}

// SubmitClaim opens a claim for an orphaned family. Resubmitting while a
// claim of the same type is active returns that claim unchanged.
func (s *Service) SubmitClaim(ctx context.Context, in SubmitInput) (ClaimView, error) {
	const op = "submit_claim"
	actor := auditlog.UserActor(in.ClaimantID, audit.ActorClaimant)

	in.Reason = htmlsanitize.Reason(in.Reason, s.policy.ReasonMaxLength)
	email := normalize.Email(in.OwnerEmail)
	if err := validateSubmit(in, email); err != nil {
		s.metrics.rejection(op, err)
		return ClaimView{}, err
	}

	var family models.Family
	err := s.retry(ctx, op, func(ctx context.Context) error {
		f, err := s.families.GetByID(ctx, in.FamilyID)
		if errors.Is(err, familystore.ErrNotFound) || (err == nil && !f.IsActive()) {
			return ErrFamilyNotFound
		}
		if err != nil {
			return err
		}
		family = f

		member, err := s.members.IsMember(ctx, in.FamilyID, in.ClaimantID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotAMember
		}
		return nil
	})
	if err != nil {
		return ClaimView{}, s.rejectSubmission(ctx, op, in, err)
	}

	var (
		out     models.AdminClaim
		created bool
	)
	err = s.retry(ctx, op, func(ctx context.Context) error {
		created = false
		existing, err := s.claims.GetActive(ctx, in.FamilyID, in.ClaimantID)
		switch {
		case err == nil:
			existing, expired, err := s.expireIfPastDeadline(ctx, existing)
			if err != nil {
				return err
			}
			if !expired {
				if existing.ClaimType == in.Type {
					out = existing
					return nil
				}
				return ErrDuplicateActiveClaim
			}
		case !errors.Is(err, claimstore.ErrNotFound):
			return err
		}

		hasAdmin, err := s.members.HasActiveAdmin(ctx, in.FamilyID)
		if err != nil {
			return err
		}
		if hasAdmin {
			return ErrNotOrphaned
		}

		now := s.clock()
		c := models.AdminClaim{
			FamilyID:             in.FamilyID,
			ClaimantID:           in.ClaimantID,
			ClaimType:            in.Type,
			Status:               models.ClaimPending,
			Reason:               in.Reason,
			EndorsementsRequired: s.policy.Required(in.Type == models.ClaimTypeEndorsement),
			ExpiresAt:            s.policy.ClaimDeadline(now),
			CreatedAt:            now,
		}
		if in.Type == models.ClaimTypeEmailChallenge {
			c.Metadata = map[string]string{MetaChallengeEmail: email}
		}

		c, err = s.claims.Create(ctx, c)
		if errors.Is(err, claimstore.ErrDuplicateActiveClaim) {
			// A concurrent submit won; the next attempt reads its claim.
			return claimstore.ErrConflict
		}
		if err != nil {
			return err
		}
		out, created = c, true
		return nil
	})
	if err != nil {
		return ClaimView{}, s.rejectSubmission(ctx, op, in, err)
	}
	if !created {
		return s.view(out), nil
	}

	s.recordTransition(ctx, models.AdminClaim{}, out, audit.EventClaimSubmitted, actor, "",
		map[string]string{"claim_type": string(out.ClaimType)})

	if out.ClaimType == models.ClaimTypeEmailChallenge {
		// The claim stands even if delivery fails; the claimant can resend.
		if err := s.deliverChallenge(ctx, out, family.Name, false); err != nil {
			s.log.Warn("challenge not delivered on submit",
				zap.String("claim_id", out.ID.Hex()),
				zap.Error(err))
		}
	}
	return s.view(out), nil
}

func validateSubmit(in SubmitInput, email string) error {
	if in.FamilyID.IsZero() || in.ClaimantID.IsZero() {
		return invalid("family and claimant are required")
	}
	if !in.Type.Valid() {
		return invalid(`claim type must be "endorsement" or "email_challenge"`)
	}
	if in.Type == models.ClaimTypeEmailChallenge && !inputval.IsValidEmail(email) {
		return invalid("a valid owner email is required for an email challenge claim")
	}
	return nil
}

func (s *Service) rejectSubmission(ctx context.Context, op string, in SubmitInput, err error) error {
	s.metrics.rejection(op, err)
	if isRejection(err) {
		s.audit.SubmissionRejected(ctx, in.FamilyID, in.ClaimantID, Kind(err),
			map[string]string{"claim_type": string(in.Type)})
	}
	return err
}

// GetClaim returns the claimant's active claim for the family, or their most
// recent one when none is active. It never changes state.
func (s *Service) GetClaim(ctx context.Context, familyID, claimantID primitive.ObjectID) (ClaimView, error) {
	var c models.AdminClaim
	err := s.retry(ctx, "get_claim", func(ctx context.Context) error {
		var err error
		c, err = s.claims.GetLatest(ctx, familyID, claimantID)
		if errors.Is(err, claimstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return ClaimView{}, err
	}
	return s.view(c), nil
}

// Claim returns one claim. The caller must be its claimant or a member of
// its family.
func (s *Service) Claim(ctx context.Context, claimID, callerID primitive.ObjectID) (ClaimView, error) {
	var c models.AdminClaim
	err := s.retry(ctx, "get_claim", func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, claimID); err != nil {
			return err
		}
		return s.canView(ctx, c, callerID)
	})
	if err != nil {
		return ClaimView{}, err
	}
	return s.view(c), nil
}

// ListPendingEndorsementClaims returns the family's open endorsement claims
// that callerID could vote on: pending, within their deadline, and not
// their own. The caller must be a family member.
func (s *Service) ListPendingEndorsementClaims(ctx context.Context, familyID, callerID primitive.ObjectID) ([]ClaimView, error) {
	var list []models.AdminClaim
	err := s.retry(ctx, "list_pending", func(ctx context.Context) error {
		member, err := s.members.IsMember(ctx, familyID, callerID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotAMember
		}
		list, err = s.claims.ListPendingEndorsement(ctx, familyID, callerID, s.clock())
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.clock()
	out := make([]ClaimView, 0, len(list))
	for _, c := range list {
		out = append(out, NewView(c, now))
	}
	return out, nil
}

// WithdrawClaim lets the claimant abandon a pending or approved claim.
func (s *Service) WithdrawClaim(ctx context.Context, claimID, actorID primitive.ObjectID) (ClaimView, error) {
	const op = "withdraw_claim"
	actor := auditlog.UserActor(actorID, audit.ActorClaimant)

	var c models.AdminClaim
	err := s.retry(ctx, op, func(ctx context.Context) error {
		var err error
		if c, err = s.loadClaim(ctx, claimID); err != nil {
			return err
		}
		if c.ClaimantID != actorID {
			return ErrNotClaimant
		}
		if !c.Status.Active() {
			return ErrClaimNotPending
		}
		now := s.clock()
		updated, err := s.claims.CompareAndSwap(ctx, c.ID, c.Status, c.Version, claimstore.Update{
			Status:         models.ClaimDenied,
			ResolvedAt:     &now,
			ResolutionCode: recoverypolicy.CodeWithdrawn,
		})
		if err != nil {
			return err
		}
		s.recordTransition(ctx, c, updated, audit.EventClaimWithdrawn, actor, recoverypolicy.CodeWithdrawn, nil)
		c = updated
		return nil
	})
	if err != nil {
		if !c.ID.IsZero() && isRejection(err) {
			return ClaimView{}, s.reject(ctx, op, c, audit.EventClaimRejected, actor, err)
		}
		s.metrics.rejection(op, err)
		return ClaimView{}, err
	}
	return s.view(c), nil
}

// ClaimHistory returns the audit trail of a claim, newest first. The caller
// must be its claimant or a member of its family.
func (s *Service) ClaimHistory(ctx context.Context, claimID, callerID primitive.ObjectID) ([]audit.Event, error) {
	var events []audit.Event
	err := s.retry(ctx, "claim_history", func(ctx context.Context) error {
		c, err := s.loadClaim(ctx, claimID)
		if err != nil {
			return err
		}
		if err := s.canView(ctx, c, callerID); err != nil {
			return err
		}
		events, err = s.auditStore.GetByClaim(ctx, claimID, historyLimit)
		return err
	})
	return events, err
}

func (s *Service) loadClaim(ctx context.Context, id primitive.ObjectID) (models.AdminClaim, error) {
	c, err := s.claims.GetByID(ctx, id)
	if errors.Is(err, claimstore.ErrNotFound) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("load claim %s: %w", id.Hex(), err)
	}
	return c, nil
}

func (s *Service) canView(ctx context.Context, c models.AdminClaim, userID primitive.ObjectID) error {
	if c.ClaimantID == userID {
		return nil
	}
	member, err := s.members.IsMember(ctx, c.FamilyID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotAMember
	}
	return nil
}

// expireIfPastDeadline moves an active claim past its deadline to expired.
// It reports whether the claim is expired on return. A lost race returns
// claimstore.ErrConflict so the caller re-reads.
func (s *Service) expireIfPastDeadline(ctx context.Context, c models.AdminClaim) (models.AdminClaim, bool, error) {
	now := s.clock()
	if !c.Status.Active() || !c.PastDeadline(now) {
		return c, c.Status == models.ClaimExpired, nil
	}
	updated, err := s.claims.CompareAndSwap(ctx, c.ID, c.Status, c.Version, claimstore.Update{
		Status:         models.ClaimExpired,
		ResolvedAt:     &now,
		ResolutionCode: recoverypolicy.CodeDeadlinePassed,
	})
	if err != nil {
		return c, false, err
	}
	s.recordTransition(ctx, c, updated, audit.EventClaimExpired, auditlog.SystemActor(), recoverypolicy.CodeDeadlinePassed,
		map[string]string{"trigger": "on_access"})
	return updated, true, nil
}

func (s *Service) recordTransition(ctx context.Context, before, after models.AdminClaim, eventType string, actor auditlog.Actor, code string, details map[string]string) {
	s.audit.Transition(ctx, after, eventType, before.Status, after.Status, actor, code, details)
	from := string(before.Status)
	if from == "" {
		from = "none"
	}
	s.metrics.transition(from, string(after.Status))
}
