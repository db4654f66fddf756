package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"warga/internal/backup"
	"warga/internal/snapshot"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	label := sanitizeInput(r.URL.Query().Get("label"))

	doc, err := s.backup.Export(r.Context(), label)
	if err != nil {
		slog.ErrorContext(r.Context(), "Export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := "warga-backup-" + time.Now().UTC().Format("20060102-150405") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body: "+err.Error())
		return
	}

	doc, err := backup.Parse(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid backup document: "+err.Error())
		return
	}

	confirm := r.URL.Query().Get("confirm") == "true"
	result := s.backup.Restore(r.Context(), doc, confirm)
	s.writeRestoreResult(w, r, result)
}

func (s *Server) handleBackupState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]backup.State{"state": s.backup.State()})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	metas, err := s.backup.ListSnapshots(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List snapshots failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not list snapshots")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

type createSnapshotRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var in createSnapshotRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	meta, err := s.backup.CreateSnapshot(r.Context(), in.Name)
	if err != nil {
		switch {
		case errors.Is(err, snapshot.ErrExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, snapshot.ErrCapacity):
			writeError(w, http.StatusConflict, err.Error())
		default:
			// Name validation failures land here too
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.backup.DeleteSnapshot(r.Context(), name); err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		slog.ErrorContext(r.Context(), "Delete snapshot failed", "error", err, "snapshot", name)
		writeError(w, http.StatusInternalServerError, "could not delete snapshot")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	confirm := r.URL.Query().Get("confirm") == "true"

	result, err := s.backup.RestoreSnapshot(r.Context(), name, confirm)
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "snapshot not found")
			return
		}
		slog.ErrorContext(r.Context(), "Restore snapshot failed", "error", err, "snapshot", name)
		writeError(w, http.StatusInternalServerError, "could not restore snapshot")
		return
	}

	s.writeRestoreResult(w, r, result)
}

// restoreResponse is the wire form of a restore outcome. The internal
// error is flattened to a message; the outcome field tells the caller
// what actually happened to the data.
type restoreResponse struct {
	backup.RestoreResult
	Error string `json:"error,omitempty"`
}

func (s *Server) writeRestoreResult(w http.ResponseWriter, r *http.Request, result backup.RestoreResult) {
	resp := restoreResponse{RestoreResult: result}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}

	if result.Success {
		s.invalidateReads()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status := http.StatusInternalServerError
	switch result.Outcome {
	case backup.OutcomeValidationFailed:
		status = http.StatusUnprocessableEntity
		if errors.Is(result.Err, backup.ErrConfirmationRequired) {
			status = http.StatusPreconditionRequired
		}
	case backup.OutcomeSnapshotFailed, backup.OutcomeRolledBack, backup.OutcomeRollbackFailed:
		// The store may have been touched; drop caches even on failure.
		s.invalidateReads()
	}

	slog.ErrorContext(r.Context(), "Restore did not commit",
		"outcome", string(result.Outcome),
		"failed_records", result.FailedRecords,
		"error", resp.Error)
	writeJSON(w, status, resp)
}
