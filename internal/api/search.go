package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/search"
	"github.com/go-chi/chi/v5"
)

const maxResumeSize = 5 << 20

// SearchRequest is the body of a job, course or scholarship search.
type SearchRequest struct {
	Query    string `json:"query" validate:"required,max=500"`
	Location string `json:"location" validate:"max=200"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=50"`
}

// HandleSearch handles POST /api/search/{kind}.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		Error(w, http.StatusServiceUnavailable, "search not configured")
		return
	}

	kind, err := search.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		Error(w, http.StatusNotFound, "unknown search kind")
		return
	}

	var req SearchRequest
	if status, err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, status, err.Error())
		return
	}

	result, err := h.search.Search(r.Context(), kind, search.Query{Query: req.Query, Location: req.Location, Limit: req.Limit})
	if err != nil {
		h.searchError(w, string(kind), err)
		return
	}
	writeRawJSON(w, result)
}

// HandleAnalyzeResume handles POST /api/resume/analyze with a multipart "file" field.
func (h *Handler) HandleAnalyzeResume(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		Error(w, http.StatusServiceUnavailable, "resume analysis not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxResumeSize+(64<<10))
	if err := r.ParseMultipartForm(maxResumeSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(w, http.StatusRequestEntityTooLarge, "resume must be at most 5 MiB")
			return
		}
		Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > maxResumeSize {
		Error(w, http.StatusRequestEntityTooLarge, "resume must be at most 5 MiB")
		return
	}

	result, err := h.search.AnalyzeResume(r.Context(), header.Filename, file)
	if err != nil {
		h.searchError(w, "resume", err)
		return
	}
	writeRawJSON(w, result)
}

func (h *Handler) searchError(w http.ResponseWriter, kind string, err error) {
	var re *counsel.RemoteError
	switch {
	case errors.Is(err, search.ErrUnknownKind):
		Error(w, http.StatusNotFound, "unknown search kind")
	case errors.Is(err, search.ErrNotConfigured):
		Error(w, http.StatusServiceUnavailable, kind+" collaborator not configured")
	case counsel.IsCancelled(err):
		// Client went away; nobody reads this response.
		h.logger.Debug("Collaborator request cancelled", "kind", kind)
	case counsel.IsTimeout(err):
		Error(w, http.StatusGatewayTimeout, kind+" collaborator timed out")
	case errors.As(err, &re), errors.Is(err, search.ErrInvalidResponse):
		h.logger.Warn("Collaborator request failed", "kind", kind, "error", err)
		Error(w, http.StatusBadGateway, kind+" collaborator failed")
	default:
		h.logger.Error("Collaborator request failed", "kind", kind, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
