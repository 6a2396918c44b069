package site

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/starford/zettelstack/internal/apperr"
	"github.com/starford/zettelstack/internal/checksum"
	"github.com/starford/zettelstack/internal/models"
)

// IndexPage is served for directory requests.
const IndexPage = "index.html"

// PageHandler serves files of the generated site, note pages included.
type PageHandler struct {
	svc *Service
}

// NewPageHandler creates a PageHandler.
func NewPageHandler(svc *Service) *PageHandler {
	return &PageHandler{svc: svc}
}

// ServeHTTP handles GET /*. Responses carry a content ETag so unchanged
// pages revalidate with 304.
func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if strings.HasSuffix(p, "/") {
		p += IndexPage
	}
	id := models.NormalizeID(p)

	data, err := h.svc.Page(r.Context(), id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "unreadable page", http.StatusNotFound)
		return
	}

	w.Header().Set("ETag", checksum.ETag(data))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, path.Base(string(id)), time.Time{}, bytes.NewReader(data))
}
