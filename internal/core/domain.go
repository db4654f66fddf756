package core

import (
	"errors"
	"strings"
	"time"
)

const (
	StatusSettled        OccupancyStatus = "settled"
	StatusTenant         OccupancyStatus = "tenant"
	StatusVisiting       OccupancyStatus = "visiting"
	StatusReservedFuture OccupancyStatus = "reserved_future"
)

const (
	CategoryOperational ExpenseCategory = "operational"
	CategoryEvent       ExpenseCategory = "event"
	CategoryOther       ExpenseCategory = "other"
)

type (
	// OccupancyStatus is the closed set of resident occupancy states.
	OccupancyStatus string

	// ExpenseCategory is the closed set of expense buckets.
	ExpenseCategory string

	Resident struct {
		ID              string          `json:"id"`
		FullName        string          `json:"fullName"`
		BlockCode       string          `json:"blockCode"`
		Phone           string          `json:"phone,omitempty"`
		Status          OccupancyStatus `json:"status"`
		EventDuesAmount int64           `json:"eventDuesAmount"` // voluntary event dues, whole rupiah
		Notes           string          `json:"notes,omitempty"`
		UpdatedAt       time.Time       `json:"updatedAt"`
	}

	Expense struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		Amount      int64           `json:"amount"` // whole rupiah, always positive
		Date        time.Time       `json:"date"`
		Category    ExpenseCategory `json:"category"`
		ReceiptURL  string          `json:"receiptUrl,omitempty"`
	}

	// DuesPayment marks one resident as paid for one (month, year) period.
	// The aggregator assumes at most one payment per (resident, month, year).
	DuesPayment struct {
		ID         string    `json:"id"`
		ResidentID string    `json:"residentId"`
		Month      int       `json:"month"` // 1-12
		Year       int       `json:"year"`
		Amount     int64     `json:"amount"`
		PaidAt     time.Time `json:"paidAt"`
	}

	Comment struct {
		ID        string    `json:"id"`
		Author    string    `json:"author"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"createdAt"`
	}
)

var (
	ErrEmptyFullName    = errors.New("empty full name")
	ErrEmptyBlockCode   = errors.New("empty block code")
	ErrInvalidStatus    = errors.New("invalid occupancy status")
	ErrInvalidCategory  = errors.New("invalid expense category")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrNegativeDues     = errors.New("negative event dues amount")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrEmptyResidentRef = errors.New("empty resident reference")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyAuthor      = errors.New("empty author")
	ErrEmptyContent     = errors.New("empty content")
	ErrZeroDate         = errors.New("date cannot be zero")
)

// IsValid reports whether the status is one of the closed enum values.
func (s OccupancyStatus) IsValid() bool {
	switch s {
	case StatusSettled, StatusTenant, StatusVisiting, StatusReservedFuture:
		return true
	default:
		return false
	}
}

// IsValid reports whether the category is one of the closed enum values.
func (c ExpenseCategory) IsValid() bool {
	switch c {
	case CategoryOperational, CategoryEvent, CategoryOther:
		return true
	default:
		return false
	}
}

// ValidateMonth checks the 1-12 range.
func ValidateMonth(month int) error {
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// ValidateYear checks a plausible calendar year range.
func ValidateYear(year int) error {
	if year < 2000 || year > 2100 {
		return ErrInvalidYear
	}
	return nil
}

func (r Resident) Validate() error {
	if strings.TrimSpace(r.FullName) == "" {
		return ErrEmptyFullName
	}
	if strings.TrimSpace(r.BlockCode) == "" {
		return ErrEmptyBlockCode
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	if r.EventDuesAmount < 0 {
		return ErrNegativeDues
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.Description) == "" {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Date.IsZero() {
		return ErrZeroDate
	}
	if !e.Category.IsValid() {
		return ErrInvalidCategory
	}
	return nil
}

func (p DuesPayment) Validate() error {
	if strings.TrimSpace(p.ResidentID) == "" {
		return ErrEmptyResidentRef
	}
	if err := ValidateMonth(p.Month); err != nil {
		return err
	}
	if err := ValidateYear(p.Year); err != nil {
		return err
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (c Comment) Validate() error {
	if strings.TrimSpace(c.Author) == "" {
		return ErrEmptyAuthor
	}
	if strings.TrimSpace(c.Content) == "" {
		return ErrEmptyContent
	}
	return nil
}
