package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
)

type jobView struct {
	ID              string     `json:"id"`
	State           string     `json:"state"`
	Preview         bool       `json:"preview"`
	TargetTriangles int        `json:"target_triangles"`
	AttemptCount    int        `json:"attempt_count"`
	VertexBefore    *int       `json:"vertex_count_before,omitempty"`
	VertexAfter     *int       `json:"vertex_count_after,omitempty"`
	ErrorDetail     string     `json:"error_detail,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
}

func newJobView(job *domain.Job) jobView {
	return jobView{
		ID:              job.ID,
		State:           string(job.State),
		Preview:         job.Preview,
		TargetTriangles: job.TargetTriangles,
		AttemptCount:    job.AttemptCount,
		VertexBefore:    job.VertexCountBefore,
		VertexAfter:     job.VertexCountAfter,
		ErrorDetail:     job.ErrorDetail,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
		ExpiresAt:       job.ExpiresAt,
	}
}

// JobsCreate accepts a multipart model upload and creates a paid optimization
// job for the authenticated identity.
func (a *App) JobsCreate(w http.ResponseWriter, r *http.Request) {
	identity := a.currentUserID(r)
	if identity == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	data, filename, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	target, err := strconv.Atoi(r.FormValue("target_triangles"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "target_triangles must be an integer")
		return
	}

	job, err := a.Service.CreateJob(r.Context(), identity, data, filename, target)
	if err != nil {
		// The queue being down still leaves a pending job record behind.
		if job != nil && errors.Is(err, domain.ErrQueueUnavailable) {
			a.json(w, http.StatusAccepted, map[string]any{
				"job":     newJobView(job),
				"warning": "job accepted but not yet dispatched",
			})
			return
		}
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"job": newJobView(job)})
}

// PreviewCreate runs the zero-cost preview flow. No authentication required.
func (a *App) PreviewCreate(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := a.readUpload(w, r)
	if !ok {
		return
	}
	job, err := a.Service.CreatePreview(r.Context(), data, filename)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"job": newJobView(job)})
}

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := a.Service.GetJobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job": newJobView(job)})
}

// JobDownload issues a time-limited download link for a completed job.
func (a *App) JobDownload(w http.ResponseWriter, r *http.Request) {
	identity := a.currentUserID(r)
	link, err := a.Service.GetDownloadLink(r.Context(), identity, chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"url": link})
}

// readUpload extracts the multipart "file" part, bounded by MaxUploadBytes.
func (a *App) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field \"file\" required")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "too_large",
				fmt.Sprintf("upload exceeds %d bytes", a.MaxUploadBytes))
			return nil, "", false
		}
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return nil, "", false
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "empty upload")
		return nil, "", false
	}
	return data, header.Filename, true
}
