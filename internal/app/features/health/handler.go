package health

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Handler holds dependencies needed for health checks.
type Handler struct {
	Client *mongo.Client
	Txn    *txn.Runner
	Log    *zap.Logger
}

// NewHandler constructs a health Handler with the Mongo client and logger.
func NewHandler(client *mongo.Client, runner *txn.Runner, logger *zap.Logger) *Handler {
	return &Handler{
		Client: client,
		Txn:    runner,
		Log:    logger,
	}
}

type healthResponse struct {
	Status       string `json:"status"`
	Database     string `json:"database"`
	Transactions string `json:"transactions"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Serve handles GET /health.
//
// On success: 200 and
//
//	{ "status":"ok", "database":"connected", "transactions":"enabled" }
//
// "transactions" reads "fallback" once the deployment has refused a
// transaction and claim updates run as single-document swaps.
//
// On DB failure: 503 and
//
//	{ "status":"error", "database":"disconnected", "message":"Database unavailable", "error":"…"}
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), timeouts.Ping())
	defer cancel()

	w.Header().Set("Content-Type", "application/json")

	resp := healthResponse{
		Status:       "ok",
		Database:     "connected",
		Transactions: "fallback",
	}
	if h.Txn.Enabled() {
		resp.Transactions = "enabled"
	}

	if err := h.Client.Ping(ctx, readpref.Primary()); err != nil {
		h.Log.Error("health-check: mongo ping failed", zap.Error(err))
		w.WriteHeader(http.StatusServiceUnavailable)
		resp.Status = "error"
		resp.Database = "disconnected"
		resp.Message = "Database unavailable"
		resp.Error = err.Error()
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	_ = json.NewEncoder(w).Encode(resp)
}
