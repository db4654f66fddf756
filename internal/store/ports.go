// Package store declares the record-store ports the engine consumes.
//
// The canonical entity data lives in an external store; the engine
// only issues list/upsert/delete calls through these interfaces. No
// multi-record transaction support is assumed of any implementation:
// each call is an independent operation that may fail on its own.
package store

import (
	"context"
	"errors"

	"warga/internal/core"
)

// ErrNotFound is returned by deletes of ids the store does not hold.
var ErrNotFound = errors.New("record not found")

type (
	ResidentStore interface {
		ListResidents(ctx context.Context) ([]core.Resident, error)
		UpsertResident(ctx context.Context, r core.Resident) error
		// DeleteResident removes the resident and cascades to that
		// resident's dues payments; a resident row never outlives its
		// dependents nor the other way round.
		DeleteResident(ctx context.Context, id string) error
	}

	ExpenseStore interface {
		ListExpenses(ctx context.Context) ([]core.Expense, error)
		UpsertExpense(ctx context.Context, e core.Expense) error
		DeleteExpense(ctx context.Context, id string) error
	}

	DuesStore interface {
		ListDuesPayments(ctx context.Context) ([]core.DuesPayment, error)
		UpsertDuesPayment(ctx context.Context, p core.DuesPayment) error
		DeleteDuesPayment(ctx context.Context, id string) error
	}

	CommentStore interface {
		ListComments(ctx context.Context) ([]core.Comment, error)
		UpsertComment(ctx context.Context, c core.Comment) error
		DeleteComment(ctx context.Context, id string) error
	}

	// RecordStore is the full adapter contract the orchestrator takes
	// by injection; handlers and services may depend on the narrower
	// per-entity interfaces instead.
	RecordStore interface {
		ResidentStore
		ExpenseStore
		DuesStore
		CommentStore
	}
)
