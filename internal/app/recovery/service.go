// Package recovery lets members of an orphaned family space (no active
// admin) recover admin rights, either through peer endorsements or by
// proving control of the original owner's email.
//
// Every status change is a compare-and-swap on the claim's version, so
// concurrent endorsements, grants and sweeps resolve to exactly one winner.
package recovery

import (
	"context"
	"time"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	endorsementstore "github.com/dalemusser/familyspace/internal/app/store/endorsements"
	familystore "github.com/dalemusser/familyspace/internal/app/store/families"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// RoleAdmin is the membership role granted on success.
const RoleAdmin = "admin"

// MembershipOracle answers membership questions and performs the final grant.
type MembershipOracle interface {
	HasActiveAdmin(ctx context.Context, familyID primitive.ObjectID) (bool, error)
	IsMember(ctx context.Context, familyID, userID primitive.ObjectID) (bool, error)
	GrantRole(ctx context.Context, familyID, userID primitive.ObjectID, role string) error
}

// ChallengeService issues and checks single-use email tokens. Issuing
// replaces any previous token for the claim. CheckChallenge returns false
// for wrong, expired or used tokens and an error only for store failures;
// it does not use the token up. ConsumeChallenge does, and is called in the
// same transaction as the claim transition it authorizes.
type ChallengeService interface {
	IssueChallenge(ctx context.Context, claimID primitive.ObjectID, email string, notAfter time.Time, resend bool) (string, error)
	CheckChallenge(ctx context.Context, claimID primitive.ObjectID, token string) (bool, error)
	ConsumeChallenge(ctx context.Context, claimID primitive.ObjectID) error
}

// Notifier delivers a challenge token to the owner's email.
type Notifier interface {
	SendChallenge(ctx context.Context, to, familyName, claimID, token string, ttl time.Duration) error
}

// Deps holds what a Service needs. Txn may be nil to run without
// transactions; Notifier may be nil to skip delivery.
type Deps struct {
	Claims       *claimstore.Store
	Endorsements *endorsementstore.Store
	Families     *familystore.Store
	AuditStore   *audit.Store
	Audit        *auditlog.Logger
	Members      MembershipOracle
	Challenges   ChallengeService
	Notifier     Notifier
	Txn          *txn.Runner
	Metrics      *Metrics
	Policy       recoverypolicy.Policy
	Now          func() time.Time
	Logger       *zap.Logger
}

// Service implements the claim lifecycle.
type Service struct {
	claims       *claimstore.Store
	endorsements *endorsementstore.Store
	families     *familystore.Store
	auditStore   *audit.Store
	audit        *auditlog.Logger
	members      MembershipOracle
	challenges   ChallengeService
	notifier     Notifier
	txn          *txn.Runner
	metrics      *Metrics
	policy       recoverypolicy.Policy
	now          func() time.Time
	log          *zap.Logger
}

// New creates a Service. Zero policy fields take their defaults.
func New(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		claims:       d.Claims,
		endorsements: d.Endorsements,
		families:     d.Families,
		auditStore:   d.AuditStore,
		audit:        d.Audit,
		members:      d.Members,
		challenges:   d.Challenges,
		notifier:     d.Notifier,
		txn:          d.Txn,
		metrics:      d.Metrics,
		policy:       d.Policy.WithDefaults(),
		now:          d.Now,
		log:          d.Logger,
	}
}

// Policy returns the effective policy.
func (s *Service) Policy() recoverypolicy.Policy {
	return s.policy
}

// clock returns the current time at the precision MongoDB stores.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// reject records a refused operation against an existing claim and returns err.
func (s *Service) reject(ctx context.Context, op string, c models.AdminClaim, eventType string, actor auditlog.Actor, err error) error {
	s.metrics.rejection(op, err)
	s.audit.Rejected(ctx, c, eventType, actor, Kind(err), nil)
	return err
}
