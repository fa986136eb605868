package recovery

import (
	"net/http"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/normalize"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type submitRequest struct {
	FamilyID   string `json:"familyId" validate:"required,objectid" label:"Family"`
	Type       string `json:"type" validate:"required,claimtype" label:"Claim type"`
	Reason     string `json:"reason" label:"Reason"`
	OwnerEmail string `json:"ownerEmail" validate:"email" label:"Owner email"`
}

// HandleSubmit handles POST /recovery/claims.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	familyID, _ := primitive.ObjectIDFromHex(normalize.ObjectID(req.FamilyID))

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.Log, "submit claim")
	defer cancel()

	v, err := h.Svc.SubmitClaim(ctx, recovery.SubmitInput{
		FamilyID:   familyID,
		ClaimantID: callerID,
		Type:       models.ClaimType(normalize.Enum(req.Type)),
		Reason:     req.Reason,
		OwnerEmail: req.OwnerEmail,
	})
	if err != nil {
		h.fail(w, r, "submit_claim", err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// ServeFamilyClaim handles GET /recovery/families/{familyID}/claim.
//
// Without ?claimant the caller's own claim is returned. Another claimant's
// claim is only visible to members of the family.
func (h *Handler) ServeFamilyClaim(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	familyID, ok := pathID(w, r, "familyID")
	if !ok {
		return
	}
	claimantID := callerID
	if raw := normalize.ObjectID(r.URL.Query().Get("claimant")); raw != "" {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "claimant is not a valid id")
			return
		}
		claimantID = id
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "get claim")
	defer cancel()

	v, err := h.Svc.GetClaim(ctx, familyID, claimantID)
	if err == nil && claimantID != callerID {
		v, err = h.Svc.Claim(ctx, v.ID, callerID)
	}
	if err != nil {
		h.fail(w, r, "get_claim", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// ServeClaim handles GET /recovery/claims/{claimID}.
func (h *Handler) ServeClaim(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, "get_claim", timeouts.Short(), h.Svc.Claim)
}

// ServePendingEndorsements handles GET /recovery/families/{familyID}/pending-endorsements.
func (h *Handler) ServePendingEndorsements(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	familyID, ok := pathID(w, r, "familyID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.Log, "list pending endorsement claims")
	defer cancel()

	list, err := h.Svc.ListPendingEndorsementClaims(ctx, familyID, callerID)
	if err != nil {
		h.fail(w, r, "list_pending", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleWithdraw handles POST /recovery/claims/{claimID}/withdraw.
func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, "withdraw_claim", timeouts.Medium(), h.Svc.WithdrawClaim)
}

// HandleGrant handles POST /recovery/claims/{claimID}/grant.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, "grant_admin_rights", timeouts.Long(), h.Svc.GrantAdminRights)
}

// ServeHistory handles GET /recovery/claims/{claimID}/history.
func (h *Handler) ServeHistory(w http.ResponseWriter, r *http.Request) {
	callerID, ok := h.caller(w, r)
	if !ok {
		return
	}
	claimID, ok := pathID(w, r, "claimID")
	if !ok {
		return
	}

	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.Log, "claim history")
	defer cancel()

	events, err := h.Svc.ClaimHistory(ctx, claimID, callerID)
	if err != nil {
		h.fail(w, r, "claim_history", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
