package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"server/internal/storage"
)

// ArtifactServe streams a stored artifact for links issued by the local
// storage backend. Expiry is enforced against the owning job record, so a
// link that was issued before the retention deadline still dies with it.
func (a *App) ArtifactServe(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "key required")
		return
	}

	job, err := a.Jobs.GetByOutputRef(r.Context(), key)
	if err != nil {
		a.domainError(w, r, err)
		return
	}
	if !job.Downloadable(time.Now()) {
		a.error(w, http.StatusGone, "expired", "artifact retention window has passed")
		return
	}

	data, err := a.Store.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "artifact not found")
			return
		}
		a.domainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "model/gltf-binary")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
