// Package storage is the SQLite record-store adapter.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"warga/internal/core"
	"warga/internal/store"

	_ "modernc.org/sqlite"
)

// SQLiteRepository implements store.RecordStore on a local SQLite
// file. Timestamps are stored as RFC 3339 text.
type SQLiteRepository struct {
	db *sql.DB
}

var _ store.RecordStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) ListResidents(ctx context.Context) ([]core.Resident, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, full_name, block_code, phone, status, event_dues_amount, notes, updated_at
		 FROM residents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	defer rows.Close()

	out := []core.Resident{}
	for rows.Next() {
		var res core.Resident
		var status, updatedAt string
		if err := rows.Scan(&res.ID, &res.FullName, &res.BlockCode, &res.Phone, &status, &res.EventDuesAmount, &res.Notes, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan resident: %w", err)
		}
		res.Status = core.OccupancyStatus(status)
		if res.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("resident %s updated_at: %w", res.ID, err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertResident(ctx context.Context, res core.Resident) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO residents (id, full_name, block_code, phone, status, event_dues_amount, notes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   full_name = excluded.full_name,
		   block_code = excluded.block_code,
		   phone = excluded.phone,
		   status = excluded.status,
		   event_dues_amount = excluded.event_dues_amount,
		   notes = excluded.notes,
		   updated_at = excluded.updated_at`,
		res.ID, res.FullName, res.BlockCode, res.Phone, string(res.Status), res.EventDuesAmount, res.Notes, formatTime(res.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert resident %s: %w", res.ID, err)
	}
	return nil
}

// DeleteResident removes the resident and their dues payments in one
// transaction so neither ever outlives the other.
func (r *SQLiteRepository) DeleteResident(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete resident %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dues_payments WHERE resident_id = ?`, id); err != nil {
		return fmt.Errorf("delete resident %s dues: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM residents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete resident %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete resident %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("resident %s: %w", id, store.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete resident %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, description, amount, expense_date, category, receipt_url
		 FROM expenses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	out := []core.Expense{}
	for rows.Next() {
		var e core.Expense
		var category, date string
		if err := rows.Scan(&e.ID, &e.Description, &e.Amount, &date, &category, &e.ReceiptURL); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Category = core.ExpenseCategory(category)
		if e.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("expense %s date: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertExpense(ctx context.Context, e core.Expense) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO expenses (id, description, amount, expense_date, category, receipt_url)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   description = excluded.description,
		   amount = excluded.amount,
		   expense_date = excluded.expense_date,
		   category = excluded.category,
		   receipt_url = excluded.receipt_url`,
		e.ID, e.Description, e.Amount, formatTime(e.Date), string(e.Category), e.ReceiptURL)
	if err != nil {
		return fmt.Errorf("upsert expense %s: %w", e.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteExpense(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "expenses", "expense", id)
}

func (r *SQLiteRepository) ListDuesPayments(ctx context.Context) ([]core.DuesPayment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, resident_id, month, year, amount, paid_at
		 FROM dues_payments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list dues payments: %w", err)
	}
	defer rows.Close()

	out := []core.DuesPayment{}
	for rows.Next() {
		var p core.DuesPayment
		var paidAt string
		if err := rows.Scan(&p.ID, &p.ResidentID, &p.Month, &p.Year, &p.Amount, &paidAt); err != nil {
			return nil, fmt.Errorf("scan dues payment: %w", err)
		}
		if p.PaidAt, err = parseTime(paidAt); err != nil {
			return nil, fmt.Errorf("dues payment %s paid_at: %w", p.ID, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dues payments: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertDuesPayment(ctx context.Context, p core.DuesPayment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dues_payments (id, resident_id, month, year, amount, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   resident_id = excluded.resident_id,
		   month = excluded.month,
		   year = excluded.year,
		   amount = excluded.amount,
		   paid_at = excluded.paid_at`,
		p.ID, p.ResidentID, p.Month, p.Year, p.Amount, formatTime(p.PaidAt))
	if err != nil {
		return fmt.Errorf("upsert dues payment %s: %w", p.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteDuesPayment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "dues_payments", "dues payment", id)
}

func (r *SQLiteRepository) ListComments(ctx context.Context) ([]core.Comment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, author, content, created_at FROM comments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	out := []core.Comment{}
	for rows.Next() {
		var c core.Comment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Author, &c.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("comment %s created_at: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertComment(ctx context.Context, c core.Comment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO comments (id, author, content, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   author = excluded.author,
		   content = excluded.content,
		   created_at = excluded.created_at`,
		c.ID, c.Author, c.Content, formatTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert comment %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteComment(ctx context.Context, id string) error {
	return r.deleteByID(ctx, "comments", "comment", id)
}

func (r *SQLiteRepository) deleteByID(ctx context.Context, table, label, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", label, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", label, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", label, id, store.ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
