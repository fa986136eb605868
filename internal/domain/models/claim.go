package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ClaimType selects how a recovery claim is verified.
type ClaimType string

const (
	// ClaimTypeEndorsement is approved by a quorum of peer "support" endorsements.
	ClaimTypeEndorsement ClaimType = "endorsement"
	// ClaimTypeEmailChallenge is approved by proving control of the owner's email.
	ClaimTypeEmailChallenge ClaimType = "email_challenge"
)

// Valid reports whether t is a known claim type.
func (t ClaimType) Valid() bool {
	return t == ClaimTypeEndorsement || t == ClaimTypeEmailChallenge
}

// ClaimStatus is the state of a recovery claim.
//
//	pending  -> approved | denied | expired
//	approved -> completed | expired | denied (withdrawn or family regained an admin)
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "pending"
	ClaimApproved  ClaimStatus = "approved"
	ClaimDenied    ClaimStatus = "denied"
	ClaimCompleted ClaimStatus = "completed"
	ClaimExpired   ClaimStatus = "expired"
)

// Active reports whether the status still counts toward the
// one-active-claim-per-(family, claimant) rule.
func (s ClaimStatus) Active() bool {
	return s == ClaimPending || s == ClaimApproved
}

// Terminal reports whether no further transition is possible.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimDenied || s == ClaimCompleted || s == ClaimExpired
}

// AdminClaim is one attempt to recover admin rights for an orphaned family.
//
// Active mirrors Status.Active() and is indexed (unique, partial on active=true)
// together with family_id and claimant_id. Version increments on every write and
// is the compare-and-swap token for concurrent transitions.
type AdminClaim struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FamilyID   primitive.ObjectID `bson:"family_id" json:"family_id"`
	ClaimantID primitive.ObjectID `bson:"claimant_id" json:"claimant_id"`
	ClaimType  ClaimType          `bson:"claim_type" json:"claim_type"`
	Status     ClaimStatus        `bson:"status" json:"status"`
	Active     bool               `bson:"active" json:"-"`
	Reason     string             `bson:"reason,omitempty" json:"reason,omitempty"`

	EndorsementsRequired int `bson:"endorsements_required" json:"endorsements_required"`
	EndorsementsReceived int `bson:"endorsements_received" json:"endorsements_received"`
	OppositionsReceived  int `bson:"oppositions_received" json:"oppositions_received"`

	// CountedEndorsers lists voters already reflected in the counters above.
	CountedEndorsers []primitive.ObjectID `bson:"counted_endorsers,omitempty" json:"-"`

	CoolingOffUntil *time.Time `bson:"cooling_off_until,omitempty" json:"cooling_off_until,omitempty"`
	ExpiresAt       time.Time  `bson:"expires_at" json:"expires_at"`
	ClaimedAt       *time.Time `bson:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	ResolvedAt      *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	ResolutionCode  string     `bson:"resolution_code,omitempty" json:"resolution_code,omitempty"`

	// Informational only; never consulted for authorization.
	Metadata map[string]string `bson:"metadata,omitempty" json:"metadata,omitempty"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Counted reports whether userID's vote is already in the counters.
func (c AdminClaim) Counted(userID primitive.ObjectID) bool {
	for _, id := range c.CountedEndorsers {
		if id == userID {
			return true
		}
	}
	return false
}

// PastDeadline reports whether now is beyond the claim's absolute deadline.
func (c AdminClaim) PastDeadline(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Grantable is the read-time "cooling-off elapsed" condition. It is derived,
// never stored.
func (c AdminClaim) Grantable(now time.Time) bool {
	if c.Status != ClaimApproved || c.CoolingOffUntil == nil {
		return false
	}
	return !now.Before(*c.CoolingOffUntil) && !c.PastDeadline(now)
}

// CoolingOffRemaining returns how long until the claim becomes grantable,
// or zero when it already is (or never will be).
func (c AdminClaim) CoolingOffRemaining(now time.Time) time.Duration {
	if c.Status != ClaimApproved || c.CoolingOffUntil == nil {
		return 0
	}
	if d := c.CoolingOffUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}
