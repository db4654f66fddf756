package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"warga/internal/core"
	"warga/internal/store"
)

func (s *Server) cacheKey(year, month int) string {
	return strconv.Itoa(year) + "-" + strconv.Itoa(month)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)

	key := s.cacheKey(year, month)
	if dash, ok := s.dashboardCache.Get(key); ok {
		writeJSON(w, http.StatusOK, dash)
		return
	}

	dash, err := s.ledger.Dashboard(r.Context(), month, year)
	if err != nil {
		if errors.Is(err, core.ErrInvalidMonth) || errors.Is(err, core.ErrInvalidYear) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Dashboard aggregation failed", "error", err, "year", year, "month", month)
		writeError(w, http.StatusInternalServerError, "dashboard aggregation failed")
		return
	}

	s.dashboardCache.Set(key, dash)
	writeJSON(w, http.StatusOK, dash)
}

func (s *Server) handleYearSeries(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if v := r.URL.Query().Get("year"); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}

	key := strconv.Itoa(year)
	if series, ok := s.seriesCache.Get(key); ok {
		writeJSON(w, http.StatusOK, seriesResponse{Year: year, Months: series})
		return
	}

	series, warnings, err := s.ledger.YearSeries(r.Context(), year)
	if err != nil {
		if errors.Is(err, core.ErrInvalidYear) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Year series failed", "error", err, "year", year)
		writeError(w, http.StatusInternalServerError, "year series aggregation failed")
		return
	}

	s.seriesCache.Set(key, series)
	writeJSON(w, http.StatusOK, seriesResponse{Year: year, Months: series, Warnings: warnings})
}

type seriesResponse struct {
	Year     int                     `json:"year"`
	Months   []core.MonthPoint       `json:"months"`
	Warnings []core.IntegrityWarning `json:"warnings,omitempty"`
}

func (s *Server) handleVoluntaryDues(w http.ResponseWriter, r *http.Request) {
	totals, err := s.ledger.VoluntaryDues(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Voluntary dues aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "voluntary dues aggregation failed")
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleListResidents(w http.ResponseWriter, r *http.Request) {
	residents, err := s.ledger.ListResidents(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List residents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list residents")
		return
	}
	writeJSON(w, http.StatusOK, residents)
}

func (s *Server) handleSaveResident(w http.ResponseWriter, r *http.Request) {
	var in core.Resident
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	in.FullName = sanitizeInput(in.FullName)
	in.BlockCode = sanitizeInput(in.BlockCode)
	in.Notes = sanitizeInput(in.Notes)

	saved, err := s.ledger.SaveResident(r.Context(), in)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Save resident failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not save resident")
		return
	}

	s.invalidateReads()
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteResident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ledger.DeleteResident(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resident not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete resident failed", "error", err, "resident_id", id)
		writeError(w, http.StatusInternalServerError, "could not delete resident")
		return
	}

	s.invalidateReads()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.ledger.ListExpenses(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List expenses failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list expenses")
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	var in core.Expense
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	in.Description = sanitizeInput(in.Description)

	saved, err := s.ledger.RecordExpense(r.Context(), in)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Record expense failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not record expense")
		return
	}

	s.invalidateReads()
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ledger.DeleteExpense(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "expense not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete expense failed", "error", err, "expense_id", id)
		writeError(w, http.StatusInternalServerError, "could not delete expense")
		return
	}

	s.invalidateReads()
	w.WriteHeader(http.StatusNoContent)
}

type toggleDuesRequest struct {
	ResidentID string `json:"residentId"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
}

type toggleDuesResponse struct {
	ResidentID string `json:"residentId"`
	Month      int    `json:"month"`
	Year       int    `json:"year"`
	Paid       bool   `json:"paid"`
}

func (s *Server) handleToggleDues(w http.ResponseWriter, r *http.Request) {
	var in toggleDuesRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	paid, err := s.ledger.ToggleDues(r.Context(), in.ResidentID, in.Month, in.Year)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "resident not found")
			return
		}
		slog.ErrorContext(r.Context(), "Toggle dues failed", "error", err, "resident_id", in.ResidentID)
		writeError(w, http.StatusInternalServerError, "could not toggle dues")
		return
	}

	s.invalidateReads()
	writeJSON(w, http.StatusOK, toggleDuesResponse{
		ResidentID: in.ResidentID,
		Month:      in.Month,
		Year:       in.Year,
		Paid:       paid,
	})
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.ledger.ListComments(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List comments failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var in core.Comment
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	in.Author = sanitizeInput(in.Author)
	in.Content = sanitizeInput(in.Content)

	saved, err := s.ledger.AddComment(r.Context(), in)
	if err != nil {
		if isValidationErr(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "Add comment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not add comment")
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.ledger.DeleteComment(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete comment failed", "error", err, "comment_id", id)
		writeError(w, http.StatusInternalServerError, "could not delete comment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// isValidationErr reports whether err is one of the domain validation
// sentinels, which map to 422 rather than 500.
func isValidationErr(err error) bool {
	for _, sentinel := range []error{
		core.ErrEmptyFullName,
		core.ErrEmptyBlockCode,
		core.ErrInvalidStatus,
		core.ErrInvalidCategory,
		core.ErrInvalidAmount,
		core.ErrNegativeDues,
		core.ErrInvalidMonth,
		core.ErrInvalidYear,
		core.ErrEmptyResidentRef,
		core.ErrEmptyDescription,
		core.ErrEmptyAuthor,
		core.ErrEmptyContent,
		core.ErrZeroDate,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
