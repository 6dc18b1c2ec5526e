package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	body := map[string]any{
		"code":    code,
		"message": msg,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

// writeStoreError maps repository errors to responses.
func writeStoreError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no matching node", nil)
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, "already_exists", "node is already registered", nil)
	case errors.Is(err, storage.ErrReadOnly):
		writeError(w, http.StatusForbidden, "read_only", "database is read-only", nil)
	default:
		log.Error().Err(err).Str("op", op).Msg("Database error")
		writeError(w, http.StatusInternalServerError, "db_error", "database error", nil)
	}
}

// writeValidationError reports a rejected registration field.
func writeValidationError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, "validation_error", verr.Error(), map[string]any{"field": verr.Field})
		return
	}
	writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}
