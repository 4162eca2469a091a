package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"event-photo-backend/internal/services"
)

const thumbCacheControl = "public, s-maxage=86400, max-age=3600, stale-while-revalidate=86400"

// PhotoHandler handles photo-related HTTP requests
type PhotoHandler struct {
	thumbs  *services.ThumbnailService
	gallery *services.GalleryService
	archive *services.ArchiveService
}

// NewPhotoHandler creates a new photo handler
func NewPhotoHandler(thumbs *services.ThumbnailService, gallery *services.GalleryService, archive *services.ArchiveService) *PhotoHandler {
	return &PhotoHandler{
		thumbs:  thumbs,
		gallery: gallery,
		archive: archive,
	}
}

// Thumbnail handles GET /api/v1/photos/{photoID}/thumb
func (h *PhotoHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}

	th, err := h.thumbs.Resolve(r.Context(), photoID, callerFrom(r, queryCode(r)))
	if err != nil {
		writeServiceError(w, r, err, "Failed to resolve thumbnail")
		return
	}
	if th.Fallback {
		http.Redirect(w, r, originalPath(r, photoID), http.StatusFound)
		return
	}
	defer th.Body.Close()

	w.Header().Set("Content-Type", th.ContentType)
	if th.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(th.Size, 10))
	}
	w.Header().Set("Cache-Control", thumbCacheControl)
	w.Header().Set("X-Thumbnail", th.Source)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, th.Body); err != nil {
		log.Debug().Err(err).Int64("photo_id", photoID).Msg("Thumbnail write interrupted")
	}
}

// originalPath keeps the query so an explicit access code survives the redirect.
func originalPath(r *http.Request, photoID int64) string {
	p := fmt.Sprintf("/api/v1/photos/%d/original", photoID)
	if r.URL.RawQuery != "" {
		p += "?" + r.URL.RawQuery
	}
	return p
}

// Original handles GET /api/v1/photos/{photoID}/original
func (h *PhotoHandler) Original(w http.ResponseWriter, r *http.Request) {
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}

	orig, err := h.gallery.OriginalURL(r.Context(), photoID, callerFrom(r, queryCode(r)))
	if err != nil {
		writeServiceError(w, r, err, "Failed to locate original")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	if orig.URL != "" {
		http.Redirect(w, r, orig.URL, http.StatusFound)
		return
	}
	if orig.MimeType != "" {
		w.Header().Set("Content-Type", orig.MimeType)
	}
	http.ServeFile(w, r, orig.LocalPath)
}

// Approve handles POST /api/v1/photos/{photoID}/approve
func (h *PhotoHandler) Approve(w http.ResponseWriter, r *http.Request) {
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}
	if err := h.gallery.ApprovePhoto(r.Context(), photoID, callerFrom(r, "")); err != nil {
		writeServiceError(w, r, err, "Failed to approve photo")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete handles DELETE /api/v1/photos/{photoID}
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	photoID, ok := pathID(w, r, "photoID")
	if !ok {
		return
	}
	if err := h.gallery.DeletePhoto(r.Context(), photoID, callerFrom(r, "")); err != nil {
		writeServiceError(w, r, err, "Failed to delete photo")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkDownloadRequest struct {
	PhotoIDs   []int64 `json:"photoIds"`
	AccessCode string  `json:"accessCode"`
}

// BulkDownload handles POST /api/v1/photos/bulk-download
func (h *PhotoHandler) BulkDownload(w http.ResponseWriter, r *http.Request) {
	var req bulkDownloadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()
	plan, err := h.archive.Plan(ctx, services.ArchiveRequest{
		PhotoIDs: req.PhotoIDs,
		Caller:   callerFrom(r, req.AccessCode),
		ClientIP: clientIP(r),
	})
	if err != nil {
		writeServiceError(w, r, err, "Failed to prepare archive")
		return
	}

	// Archives outlive the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("Cannot clear write deadline for archive")
	}

	name := fmt.Sprintf("photos-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("X-Total-Bytes", strconv.FormatInt(plan.TotalBytes, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if err := h.archive.Stream(ctx, w, plan); err != nil {
		log.Warn().Err(err).Int("entries", len(plan.Entries)).Msg("Archive stream aborted")
		// An aborted connection marks the download as failed
		panic(http.ErrAbortHandler)
	}
}
