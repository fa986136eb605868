package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Family is a collaborative family space. Stories, media and profiles
// belong to it; admins manage who can see and edit them.
type Family struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	Name   string `bson:"name" json:"name"`
	NameCI string `bson:"name_ci" json:"name_ci"` // Case-insensitive for search

	// Status: "active" or "disabled"
	Status string `bson:"status" json:"status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// IsActive reports whether the family accepts new activity.
func (f Family) IsActive() bool {
	return f.Status == "" || f.Status == "active"
}
