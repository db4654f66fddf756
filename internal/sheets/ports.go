// Package sheets declares the ports for the read-only transparency
// mirror. The spreadsheet is never a source of truth: rows only flow
// out of the record store, never back in.
package sheets

import (
	"context"

	"warga/internal/core"
)

type (
	// DuesWriter appends one dues payment row to the mirror.
	DuesWriter interface {
		AppendDuesPayment(ctx context.Context, p core.DuesPayment, residentName string) (rowRef string, err error)
	}

	// ExpenseWriter appends one expense row to the mirror.
	ExpenseWriter interface {
		AppendExpense(ctx context.Context, e core.Expense) (rowRef string, err error)
	}

	// MirrorWriter is the full mirror surface the worker drives.
	MirrorWriter interface {
		DuesWriter
		ExpenseWriter
	}
)
