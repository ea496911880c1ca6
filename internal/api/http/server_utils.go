package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"redubstream/internal/domain"
	"redubstream/internal/pipeline"
	"redubstream/internal/redub"
)

type errorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	MissingIndex *int   `json:"missingIndex,omitempty"`
	Missing      int    `json:"missing,omitempty"`
}

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

// writeDomainError maps pipeline and engine errors onto the JSON envelope.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := classifyError(err)
	payload := errorPayload{Code: code, Message: message}
	var incomplete *domain.IncompleteUploadsError
	if errors.As(err, &incomplete) {
		index := incomplete.MissingIndex
		payload.MissingIndex = &index
		payload.Missing = incomplete.Missing
	}
	writeJSON(w, status, errorEnvelope{Error: payload})
}

func classifyError(err error) (int, string, string) {
	message := err.Error()
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "payload_too_large", message
	case errors.Is(err, domain.ErrInvalidSource):
		return http.StatusBadRequest, "invalid_source", message
	case errors.Is(err, domain.ErrInvalidUpload):
		return http.StatusBadRequest, "invalid_upload", message
	case errors.Is(err, domain.ErrIncompleteUploads):
		return http.StatusConflict, "incomplete_uploads", message
	case errors.Is(err, pipeline.ErrPipelineBusy):
		return http.StatusConflict, "pipeline_busy", message
	case errors.Is(err, pipeline.ErrResetRequired):
		return http.StatusConflict, "reset_required", message
	case errors.Is(err, pipeline.ErrMergeInProgress):
		return http.StatusConflict, "merge_in_progress", message
	case errors.Is(err, pipeline.ErrNoActiveRun):
		return http.StatusConflict, "no_active_run", message
	case errors.Is(err, pipeline.ErrNotReady), errors.Is(err, redub.ErrNotStarted):
		return http.StatusConflict, "not_ready", message
	case errors.Is(err, redub.ErrUploadsClosed):
		return http.StatusConflict, "uploads_closed", message
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found", message
	case errors.Is(err, domain.ErrAllProvidersFailed):
		return http.StatusBadGateway, "all_providers_failed", message
	case errors.Is(err, domain.ErrEngineLoadFailed):
		return http.StatusServiceUnavailable, "engine_unavailable", message
	case errors.Is(err, domain.ErrRemuxFailed):
		return http.StatusInternalServerError, "merge_failed", message
	case errors.Is(err, domain.ErrTranscodeFailed):
		return http.StatusInternalServerError, "transcode_failed", message
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled", message
	default:
		return http.StatusInternalServerError, "internal_error", message
	}
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("missing request body")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// readUpload returns the bytes of the multipart field, or the raw body when the
// request is not multipart. The second value is the client file name, if any.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		data, err := io.ReadAll(r.Body)
		return data, "", err
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, "", err
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("missing multipart field %q: %w", field, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

func indexParam(r *http.Request) (int, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "index"))
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid segment index %q", raw)
	}
	return index, nil
}
