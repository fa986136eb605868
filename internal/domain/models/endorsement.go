package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EndorsementType is a peer's vote on an endorsement claim.
type EndorsementType string

const (
	EndorsementSupport EndorsementType = "support"
	EndorsementOppose  EndorsementType = "oppose"
)

// Valid reports whether t is a known vote.
func (t EndorsementType) Valid() bool {
	return t == EndorsementSupport || t == EndorsementOppose
}

// Endorsement is one peer's vote. Exactly one document per (claim_id, endorser_id);
// changing a vote updates this document in place.
type Endorsement struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClaimID         primitive.ObjectID `bson:"claim_id" json:"claim_id"`
	FamilyID        primitive.ObjectID `bson:"family_id" json:"family_id"`
	EndorserID      primitive.ObjectID `bson:"endorser_id" json:"endorser_id"`
	EndorsementType EndorsementType    `bson:"endorsement_type" json:"endorsement_type"`
	Reason          string             `bson:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}
