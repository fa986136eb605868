// internal/app/system/auditlog/logger.go
package auditlog

import (
	"context"

	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Config holds audit logging configuration.
type Config struct {
	// Recovery controls the zap mirror for admin-claim recovery events.
	// Values: "all" (MongoDB + zap) or "db" (MongoDB only). Events are
	// always stored; claim history is read back from the store.
	Recovery string
}

// Logger provides convenience methods for logging audit events.
// It logs to both MongoDB (via audit.Store) and structured logs (via zap).
type Logger struct {
	store  *audit.Store
	zapLog *zap.Logger
	config Config
}

// New creates a new audit Logger.
func New(store *audit.Store, zapLog *zap.Logger, config Config) *Logger {
	return &Logger{
		store:  store,
		zapLog: zapLog,
		config: config,
	}
}

// logToZap logs the event to zap with consistent structure.
func (l *Logger) logToZap(event audit.Event) {
	fields := []zap.Field{
		zap.Bool("audit", true),
		zap.String("category", event.Category),
		zap.String("event_type", event.EventType),
		zap.Bool("success", event.Success),
		zap.String("actor_kind", event.ActorKind),
	}

	if event.ClaimID != nil {
		fields = append(fields, zap.String("claim_id", event.ClaimID.Hex()))
	}
	if event.FamilyID != nil {
		fields = append(fields, zap.String("family_id", event.FamilyID.Hex()))
	}
	if event.ActorID != nil {
		fields = append(fields, zap.String("actor_id", event.ActorID.Hex()))
	}
	if event.FromStatus != "" || event.ToStatus != "" {
		fields = append(fields,
			zap.String("from_status", event.FromStatus),
			zap.String("to_status", event.ToStatus))
	}
	if event.ReasonCode != "" {
		fields = append(fields, zap.String("reason_code", event.ReasonCode))
	}
	for k, v := range event.Details {
		fields = append(fields, zap.String("detail_"+k, v))
	}

	if event.Success {
		l.zapLog.Info("audit event", fields...)
	} else {
		l.zapLog.Warn("audit event", fields...)
	}
}

// Log stores an audit event and mirrors it to zap unless config is "db".
// If the logger is nil, this is a no-op (allows tests to use nil audit logger).
func (l *Logger) Log(ctx context.Context, event audit.Event) {
	if l == nil {
		return
	}
	if event.Category == "" {
		event.Category = audit.CategoryRecovery
	}

	if l.config.Recovery != "db" {
		l.logToZap(event)
	}

	if err := l.store.Log(ctx, event); err != nil {
		l.zapLog.Error("failed to store audit event",
			zap.Error(err),
			zap.String("event_type", event.EventType),
		)
	}
}

// Actor identifies who triggered an event. ID is nil for the system.
type Actor struct {
	ID   *primitive.ObjectID
	Kind string
}

// UserActor returns an actor for a user acting as kind.
func UserActor(id primitive.ObjectID, kind string) Actor {
	return Actor{ID: &id, Kind: kind}
}

// SystemActor is the service itself: the expiry sweep, or a claim found past
// its deadline during another operation.
func SystemActor() Actor {
	return Actor{Kind: audit.ActorSystem}
}

func claimEvent(c models.AdminClaim, eventType string, actor Actor) audit.Event {
	claimID := c.ID
	familyID := c.FamilyID
	return audit.Event{
		Category:  audit.CategoryRecovery,
		EventType: eventType,
		ClaimID:   &claimID,
		FamilyID:  &familyID,
		ActorID:   actor.ID,
		ActorKind: actor.Kind,
	}
}

// --- Claim transitions ---

// Transition logs a successful state change of a claim.
func (l *Logger) Transition(ctx context.Context, c models.AdminClaim, eventType string, from, to models.ClaimStatus, actor Actor, reasonCode string, details map[string]string) {
	e := claimEvent(c, eventType, actor)
	e.FromStatus = string(from)
	e.ToStatus = string(to)
	e.Success = true
	e.ReasonCode = reasonCode
	e.Details = details
	l.Log(ctx, e)
}

// Rejected logs an attempt that reached the registry but was refused. The
// claim's current status is recorded as from_status so the history shows
// what state the attempt ran into.
func (l *Logger) Rejected(ctx context.Context, c models.AdminClaim, eventType string, actor Actor, reasonCode string, details map[string]string) {
	e := claimEvent(c, eventType, actor)
	e.FromStatus = string(c.Status)
	e.Success = false
	e.ReasonCode = reasonCode
	e.Details = details
	l.Log(ctx, e)
}

// Recorded logs a successful action on a claim that did not change its status.
func (l *Logger) Recorded(ctx context.Context, c models.AdminClaim, eventType string, actor Actor, details map[string]string) {
	e := claimEvent(c, eventType, actor)
	e.FromStatus = string(c.Status)
	e.ToStatus = string(c.Status)
	e.Success = true
	e.Details = details
	l.Log(ctx, e)
}

// SubmissionRejected logs a claim request refused before any claim existed.
func (l *Logger) SubmissionRejected(ctx context.Context, familyID, claimantID primitive.ObjectID, reasonCode string, details map[string]string) {
	l.Log(ctx, audit.Event{
		Category:   audit.CategoryRecovery,
		EventType:  audit.EventClaimRejected,
		FamilyID:   &familyID,
		ActorID:    &claimantID,
		ActorKind:  audit.ActorClaimant,
		Success:    false,
		ReasonCode: reasonCode,
		Details:    details,
	})
}
