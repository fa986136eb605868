// Package txn runs multi-document writes inside a MongoDB transaction when
// the deployment supports it, and directly otherwise.
//
// Standalone servers (local dev, some hosted tiers) reject transactions. Code
// that uses Run must therefore stay correct without one: every write it makes
// is a conditional compare-and-swap, and the transaction only narrows the
// window in which a partial result is visible.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Runner runs functions in transactions on one client. A nil Runner, or one
// built with a nil client, runs functions directly.
type Runner struct {
	client *mongo.Client
	log    *zap.Logger

	// unsupported is set once the server has refused a transaction, so
	// later calls skip the attempt.
	unsupported atomic.Bool
}

// New creates a Runner for client.
func New(client *mongo.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, log: logger}
}

// Enabled reports whether Run will try a transaction.
func (r *Runner) Enabled() bool {
	return r != nil && r.client != nil && !r.unsupported.Load()
}

// Run executes fn inside a transaction. If the server does not support
// transactions, fn is run without one. fn may be invoked more than once
// when the driver retries a transient transaction error.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.Enabled() {
		return fn(ctx)
	}

	sess, err := r.client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			r.markUnsupported(err)
			return fn(ctx)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && IsNotSupported(err) {
		r.markUnsupported(err)
		return fn(ctx)
	}
	return err
}

func (r *Runner) markUnsupported(err error) {
	if r.unsupported.CompareAndSwap(false, true) {
		// Multi-document writes (the admin grant among them) lose atomicity from here on.
		r.log.Warn("transactions not supported by server; multi-document writes are no longer atomic",
			zap.Error(err))
	}
}

// IsNotSupported reports whether err means the server cannot run transactions.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		switch ce.Code {
		case 20, 51, 263:
			return true
		}
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "illegal operation") {
		return true
	}
	if strings.Contains(s, "transaction") && (strings.Contains(s, "replica set") || strings.Contains(s, "session")) {
		return true
	}
	return strings.Contains(s, "session") && strings.Contains(s, "not supported")
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, write conflicts, and errors the server labels transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var le mongo.LabeledError
	if errors.As(err, &le) {
		if le.HasErrorLabel("TransientTransactionError") || le.HasErrorLabel("UnknownTransactionCommitResult") {
			return true
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 112 {
		return true
	}
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 112 {
				return true
			}
		}
	}
	return false
}
