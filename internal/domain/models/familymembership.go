package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Family roles.
const (
	FamilyRoleAdmin  = "admin"
	FamilyRoleMember = "member"
)

// FamilyMembership is the authoritative join between users and families.
// Exactly one document per (family_id, user_id); role is a scalar ("admin"|"member").
type FamilyMembership struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FamilyID primitive.ObjectID `bson:"family_id" json:"family_id"`
	UserID   primitive.ObjectID `bson:"user_id" json:"user_id"`
	Role     string             `bson:"role" json:"role"`
	// Status: "active" or "removed"
	Status    string    `bson:"status" json:"status"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
