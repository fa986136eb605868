// Package recoverypolicy holds the decision rules for admin-claim recovery.
//
// Decision rules:
//   - An endorsement claim is approved once its support votes reach the
//     number of endorsements required when the claim was created
//   - It is denied once oppose votes reach OppositionThreshold, or, when
//     OpposeOutweighsSupport is set, once oppose votes are at least the
//     support votes
//   - When one vote satisfies both rules, denial wins
//   - An approved claim becomes grantable when its cooling-off period ends
//   - Every claim has an absolute deadline; approval extends it so the
//     claimant always has GracePeriod after cooling-off to finish the grant
//
// The package is pure: it reads no clock and touches no storage.
package recoverypolicy

import (
	"errors"
	"time"
)

// Defaults.
const (
	DefaultEndorsementsRequired = 2
	DefaultOppositionThreshold  = 2
	DefaultClaimTTL             = 7 * 24 * time.Hour
	DefaultCoolingOff           = 7 * 24 * time.Hour
	DefaultGracePeriod          = 7 * 24 * time.Hour
	DefaultChallengeTTL         = 24 * time.Hour
	DefaultMaxResends           = 3
	DefaultRetryAttempts        = 5
	DefaultReasonMaxLength      = 1000
)

// Policy configures recovery decisions. Zero fields take the defaults via
// WithDefaults.
type Policy struct {
	// EndorsementsRequired is copied onto each new endorsement claim.
	EndorsementsRequired int
	// OppositionThreshold denies a claim once this many oppose votes exist.
	// A negative value disables the rule.
	OppositionThreshold int
	// OpposeOutweighsSupport denies a claim once oppose >= support (with at
	// least one oppose vote).
	OpposeOutweighsSupport bool

	ClaimTTL     time.Duration
	CoolingOff   time.Duration
	GracePeriod  time.Duration
	ChallengeTTL time.Duration

	MaxResends      int
	RetryAttempts   int
	ReasonMaxLength int
}

// Default returns the stock policy.
func Default() Policy {
	return Policy{}.WithDefaults()
}

// WithDefaults fills zero fields.
func (p Policy) WithDefaults() Policy {
	if p.EndorsementsRequired == 0 {
		p.EndorsementsRequired = DefaultEndorsementsRequired
	}
	if p.OppositionThreshold == 0 {
		p.OppositionThreshold = DefaultOppositionThreshold
	}
	if p.ClaimTTL == 0 {
		p.ClaimTTL = DefaultClaimTTL
	}
	if p.CoolingOff == 0 {
		p.CoolingOff = DefaultCoolingOff
	}
	if p.GracePeriod == 0 {
		p.GracePeriod = DefaultGracePeriod
	}
	if p.ChallengeTTL == 0 {
		p.ChallengeTTL = DefaultChallengeTTL
	}
	if p.MaxResends == 0 {
		p.MaxResends = DefaultMaxResends
	}
	if p.RetryAttempts == 0 {
		p.RetryAttempts = DefaultRetryAttempts
	}
	if p.ReasonMaxLength == 0 {
		p.ReasonMaxLength = DefaultReasonMaxLength
	}
	return p
}

// Validate rejects settings that would make claims unresolvable.
func (p Policy) Validate() error {
	switch {
	case p.EndorsementsRequired < 1:
		return errors.New("endorsements required must be at least 1")
	case p.ClaimTTL <= 0:
		return errors.New("claim TTL must be positive")
	case p.CoolingOff < 0:
		return errors.New("cooling-off period cannot be negative")
	case p.GracePeriod <= 0:
		return errors.New("grace period must be positive")
	case p.ChallengeTTL <= 0:
		return errors.New("challenge TTL must be positive")
	case p.MaxResends < 0:
		return errors.New("max resends cannot be negative")
	case p.RetryAttempts < 1:
		return errors.New("retry attempts must be at least 1")
	case p.ReasonMaxLength < 1:
		return errors.New("reason max length must be at least 1")
	}
	return nil
}

// Outcome is the result of evaluating a claim's votes.
type Outcome int

const (
	Undecided Outcome = iota
	Approve
	Deny
)

func (o Outcome) String() string {
	switch o {
	case Approve:
		return "approve"
	case Deny:
		return "deny"
	default:
		return "undecided"
	}
}

// Resolution codes written to claims and audit entries.
const (
	CodeQuorumReached   = "quorum_reached"
	CodeChallengePassed = "challenge_verified"
	CodeOpposed         = "opposition_threshold"
	CodeFamilyHasAdmin  = "family_has_admin"
	CodeDeadlinePassed  = "deadline_passed"
	CodeGranted         = "granted"
	CodeWithdrawn       = "withdrawn"
)

// Evaluate decides an endorsement claim from its counters. required is the
// value stored on the claim, not the current policy value.
func (p Policy) Evaluate(support, oppose, required int) Outcome {
	if p.denied(support, oppose) {
		return Deny
	}
	if required > 0 && support >= required {
		return Approve
	}
	return Undecided
}

func (p Policy) denied(support, oppose int) bool {
	if p.OppositionThreshold > 0 && oppose >= p.OppositionThreshold {
		return true
	}
	return p.OpposeOutweighsSupport && oppose > 0 && oppose >= support
}

// Window is the timing an approval writes onto a claim.
type Window struct {
	CoolingOffUntil time.Time
	ExpiresAt       time.Time
}

// ApprovalWindow returns the cooling-off end and the (possibly extended)
// deadline for a claim approved at approvedAt.
func (p Policy) ApprovalWindow(approvedAt, expiresAt time.Time) Window {
	until := approvedAt.Add(p.CoolingOff)
	if floor := until.Add(p.GracePeriod); expiresAt.Before(floor) {
		expiresAt = floor
	}
	return Window{CoolingOffUntil: until, ExpiresAt: expiresAt}
}

// ClaimDeadline is the absolute deadline for a claim created at createdAt.
func (p Policy) ClaimDeadline(createdAt time.Time) time.Time {
	return createdAt.Add(p.ClaimTTL)
}

// ChallengeLifetime is how long a token issued at now may live for a claim
// with the given deadline. It never outlives the claim.
func (p Policy) ChallengeLifetime(now, deadline time.Time) time.Duration {
	d := deadline.Sub(now)
	if d > p.ChallengeTTL {
		d = p.ChallengeTTL
	}
	if d < 0 {
		return 0
	}
	return d
}

// Required returns the endorsements a new claim of the given kind needs.
// Email challenge claims need none.
func (p Policy) Required(endorsement bool) int {
	if endorsement {
		return p.EndorsementsRequired
	}
	return 0
}
