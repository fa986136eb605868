// internal/app/features/recovery/handler.go
package recovery

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/auth"
	"github.com/dalemusser/familyspace/internal/app/system/inputval"
	"github.com/dalemusser/familyspace/internal/app/system/normalize"
	"github.com/dalemusser/familyspace/internal/app/system/ratelimit"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies; the largest field is a reason.
const maxBodyBytes = 16 << 10

// Handler serves the admin-claim recovery API.
type Handler struct {
	Svc *recovery.Service
	Log *zap.Logger

	// Limiter guards verify and resend; nil disables limiting.
	Limiter *ratelimit.ChallengeLimiter
}

// NewHandler creates a recovery handler.
func NewHandler(svc *recovery.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Svc: svc,
		Log: logger,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "not_found", "family_not_found", "endorsement_not_found":
		return http.StatusNotFound
	case "not_a_member", "self_endorsement", "not_claimant":
		return http.StatusForbidden
	case "not_orphaned", "duplicate_active_claim", "duplicate_endorsement",
		"support_final", "claim_not_pending", "not_approved", "cooling_off_active":
		return http.StatusConflict
	case "challenge_invalid_or_expired":
		return http.StatusUnprocessableEntity
	case "invalid_request":
		return http.StatusBadRequest
	case "too_many_resends":
		return http.StatusTooManyRequests
	case "transient_store_error", "delivery_failed":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// fail writes the response for a service error. Internal errors are logged
// and their text is not returned.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	kind := recovery.Kind(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.Log.Error("recovery request failed",
			zap.String("op", op),
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err))
		if kind == "internal" {
			msg = "internal error"
		}
	}
	writeError(w, status, kind, msg)
}

// caller returns the signed-in user's id. RequireSignedIn has already run,
// so a missing or malformed id is a broken session.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (primitive.ObjectID, bool) {
	u, ok := auth.CurrentUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "sign in required")
		return primitive.NilObjectID, false
	}
	id, err := primitive.ObjectIDFromHex(normalize.ObjectID(u.ID))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "session user id is not valid")
		return primitive.NilObjectID, false
	}
	return id, true
}

// pathID parses a chi URL parameter as an ObjectID.
func pathID(w http.ResponseWriter, r *http.Request, name string) (primitive.ObjectID, bool) {
	raw := normalize.ObjectID(chi.URLParam(r, name))
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", name+" is not a valid id")
		return primitive.NilObjectID, false
	}
	return id, true
}

// decode reads a JSON body into dst and runs its validate tags. An empty
// body decodes as the zero value.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return false
	}
	if res := inputval.Validate(dst); res.HasErrors() {
		writeError(w, http.StatusBadRequest, "invalid_request", res.All())
		return false
	}
	return true
}
