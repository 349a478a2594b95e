// Package api exposes the upload lifecycle over HTTP and API Gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/stefando/imageHostAWS/internal/upload"
)

const maxBodyBytes = 1 << 20

// Lifecycle is the upload lifecycle as seen by the HTTP layer.
type Lifecycle interface {
	RequestUploadSlot(ctx context.Context, req upload.SlotRequest) (*upload.Slot, error)
	ConfirmUpload(ctx context.Context, ownerID, itemID string) (*upload.Confirmation, error)
	ListImages(ctx context.Context, f upload.ListFilter) (*upload.ImageList, error)
	GetImage(ctx context.Context, ownerID, itemID string) (*upload.Image, error)
	DeleteImage(ctx context.Context, ownerID, itemID string) (*upload.Deletion, error)
}

// Handler implements the HTTP endpoints.
type Handler struct {
	svc     Lifecycle
	service string
	logger  *slog.Logger
}

// NewHandler creates the endpoint handlers. service is reported by /health.
func NewHandler(svc Lifecycle, service string, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, service: service, logger: logger}
}

// confirmRequest is the body of POST /confirm-upload.
type confirmRequest struct {
	OwnerID string `json:"owner_id"`
	ItemID  string `json:"item_id"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// handleUploadURL reserves an upload slot and returns its signed URL
func (h *Handler) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req upload.SlotRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	slot, err := h.svc.RequestUploadSlot(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// handleConfirmUpload reconciles a record with the uploaded object
func (h *Handler) handleConfirmUpload(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	conf, err := h.svc.ConfirmUpload(r.Context(), req.OwnerID, req.ItemID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// handleListImages lists an owner's images with optional filters
func (h *Handler) handleListImages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.ListImages(r.Context(), upload.ListFilter{
		OwnerID:   q.Get("owner_id"),
		Tag:       q.Get("tag"),
		StartDate: q.Get("start_date"),
		EndDate:   q.Get("end_date"),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGetImage(w http.ResponseWriter, r *http.Request) {
	ownerID, itemID, err := imagePath(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	img, err := h.svc.GetImage(r.Context(), ownerID, itemID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

func (h *Handler) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	ownerID, itemID, err := imagePath(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.DeleteImage(r.Context(), ownerID, itemID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Service: h.service})
}

// imagePath returns the decoded owner_id and item_id route parameters.
// chi matches on the escaped path, so values such as "alice%40example.com"
// arrive still escaped.
func imagePath(r *http.Request) (ownerID, itemID string, err error) {
	ownerID, err = url.PathUnescape(chi.URLParam(r, "owner_id"))
	if err != nil {
		return "", "", &upload.ValidationError{Message: "invalid owner_id in path"}
	}
	itemID, err = url.PathUnescape(chi.URLParam(r, "item_id"))
	if err != nil {
		return "", "", &upload.ValidationError{Message: "invalid item_id in path"}
	}
	return ownerID, itemID, nil
}

// decodeBody parses a JSON body into v. Malformed or oversized bodies are
// validation errors.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return &upload.ValidationError{Message: "request body is required"}
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &upload.ValidationError{Message: "request body too large"}
		}
		return &upload.ValidationError{Message: "failed to read request body"}
	}
	if len(body) == 0 {
		return &upload.ValidationError{Message: "request body is required"}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &upload.ValidationError{Message: "invalid JSON body"}
	}
	return nil
}
