// internal/app/store/audit/store.go
package audit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Event categories
const (
	CategoryRecovery = "recovery"
)

// Actor kinds
const (
	ActorClaimant = "claimant"
	ActorEndorser = "endorser"
	ActorSystem   = "system"
)

// Recovery event types
const (
	EventClaimSubmitted       = "claim_submitted"
	EventClaimRejected        = "claim_rejected"
	EventClaimApproved        = "claim_approved"
	EventClaimDenied          = "claim_denied"
	EventClaimExpired         = "claim_expired"
	EventClaimCompleted       = "claim_completed"
	EventClaimWithdrawn       = "claim_withdrawn"
	EventEndorsementRecorded  = "endorsement_recorded"
	EventEndorsementUpdated   = "endorsement_updated"
	EventEndorsementRejected  = "endorsement_rejected"
	EventChallengeIssued      = "challenge_issued"
	EventChallengeSendFailed  = "challenge_send_failed"
	EventChallengeVerified    = "challenge_verified"
	EventChallengeFailed      = "challenge_failed"
	EventChallengeResendLimit = "challenge_resend_limited"
	EventGrantRejected        = "grant_rejected"
	EventGrantFailed          = "grant_failed"
	EventTransitionRaced      = "transition_raced"
)

// Event is an immutable audit entry. Transition events carry FromStatus and
// ToStatus; rejected attempts carry Success=false and a ReasonCode.
type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`

	// Event classification
	Category  string `bson:"category" json:"category"`
	EventType string `bson:"event_type" json:"event_type"`

	// What
	ClaimID    *primitive.ObjectID `bson:"claim_id,omitempty" json:"claim_id,omitempty"`
	FamilyID   *primitive.ObjectID `bson:"family_id,omitempty" json:"family_id,omitempty"`
	FromStatus string              `bson:"from_status,omitempty" json:"from_status,omitempty"`
	ToStatus   string              `bson:"to_status,omitempty" json:"to_status,omitempty"`

	// Who
	ActorID   *primitive.ObjectID `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	ActorKind string              `bson:"actor_kind" json:"actor_kind"`

	// Outcome
	Success    bool   `bson:"success" json:"success"`
	ReasonCode string `bson:"reason_code,omitempty" json:"reason_code,omitempty"`

	// Additional details (varies by event type)
	Details map[string]string `bson:"details,omitempty" json:"details,omitempty"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	ClaimID   *primitive.ObjectID
	FamilyID  *primitive.ObjectID
	ActorID   *primitive.ObjectID
	Category  string
	EventType string
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int64
	Offset    int64
}

// Store manages audit event records. It only ever inserts.
type Store struct {
	c *mongo.Collection
}

// New creates a new audit Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("audit_events")}
}

// EnsureIndexes creates necessary indexes for efficient querying.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// Query by time range (most recent first)
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		},
		// Full history of one claim
		{
			Keys: bson.D{
				{Key: "claim_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		// Query by family
		{
			Keys: bson.D{
				{Key: "family_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		// Query by actor
		{
			Keys: bson.D{
				{Key: "actor_id", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		// Query by event type
		{
			Keys: bson.D{
				{Key: "category", Value: 1},
				{Key: "event_type", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event Event) error {
	if event.ID.IsZero() {
		event.ID = primitive.NewObjectID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	_, err := s.c.InsertOne(ctx, event)
	return err
}

func buildQuery(filter QueryFilter) bson.M {
	query := bson.M{}

	if filter.ClaimID != nil {
		query["claim_id"] = filter.ClaimID
	}
	if filter.FamilyID != nil {
		query["family_id"] = filter.FamilyID
	}
	if filter.ActorID != nil {
		query["actor_id"] = filter.ActorID
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.EventType != "" {
		query["event_type"] = filter.EventType
	}
	if filter.Success != nil {
		query["success"] = *filter.Success
	}

	// Time range
	if filter.StartTime != nil || filter.EndTime != nil {
		timeQuery := bson.M{}
		if filter.StartTime != nil {
			timeQuery["$gte"] = *filter.StartTime
		}
		if filter.EndTime != nil {
			timeQuery["$lte"] = *filter.EndTime
		}
		query["timestamp"] = timeQuery
	}
	return query
}

// Query retrieves audit events matching the given filter, newest first.
func (s *Store) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit).
		SetSkip(filter.Offset)

	cursor, err := s.c.Find(ctx, buildQuery(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByFilter returns the count of events matching the filter.
func (s *Store) CountByFilter(ctx context.Context, filter QueryFilter) (int64, error) {
	return s.c.CountDocuments(ctx, buildQuery(filter))
}

// GetByClaim retrieves the audit history of one claim, newest first.
func (s *Store) GetByClaim(ctx context.Context, claimID primitive.ObjectID, limit int64) ([]Event, error) {
	return s.Query(ctx, QueryFilter{
		ClaimID: &claimID,
		Limit:   limit,
	})
}
