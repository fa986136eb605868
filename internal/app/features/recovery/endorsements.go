package recovery

import (
	"context"
	"net/http"
	"time"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/normalize"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type endorseRequest struct {
	Type   string `json:"type" validate:"required,votetype" label:"Vote"`
	Reason string `json:"reason" label:"Reason"`
}

type verifyRequest struct {
	Token string `json:"token" validate:"required" label:"Token"`
}

// HandleEndorse handles POST /recovery/claims/{claimID}/endorsements.
func (h *Handler) HandleEndorse(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, "submit_endorsement", h.Svc.SubmitEndorsement)
}

// HandleUpdateEndorsement handles PUT /recovery/claims/{claimID}/endorsements.
func (h *Handler) HandleUpdateEndorsement(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, "update_endorsement", h.Svc.UpdateEndorsement)
}

func (h *Handler) vote(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, recovery.EndorseInput) (recovery.ClaimView, error)) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	var req endorseRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, op)
	defer cancel()

	v, err := fn(ctx, recovery.EndorseInput{
		ClaimID:    claimID,
		EndorserID: callerID,
		Type:       models.EndorsementType(normalize.Enum(req.Type)),
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ServeEndorsements handles GET /recovery/claims/{claimID}/endorsements.
func (h *Handler) ServeEndorsements(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "list endorsements")
	defer cancel()

	list, err := h.Svc.ListEndorsements(ctx, claimID, callerID)
	if err != nil {
		h.fail(w, r, "list_endorsements", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleVerify handles POST /recovery/claims/{claimID}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "verify challenge")
	defer cancel()

	v, err := h.Svc.VerifyChallenge(ctx, claimID, callerID, req.Token)
	if err != nil {
		h.fail(w, r, "verify_challenge", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleResend handles POST /recovery/claims/{claimID}/resend.
func (h *Handler) HandleResend(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, "resend_challenge", timeouts.Long(), h.Svc.ResendChallenge)
}

// claimAction runs a body-less operation on one claim as the caller.
func (h *Handler) claimAction(w http.ResponseWriter, r *http.Request, op string, timeout time.Duration, fn func(ctx context.Context, claimID, actorID primitive.ObjectID) (recovery.ClaimView, error)) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeout, h.Log, op)
	defer cancel()

	v, err := fn(ctx, claimID, callerID)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
