package slip

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with CORS headers
func writeJSON(w http.ResponseWriter, code int, body any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

var filenameJunk = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
var filenameSpaces = regexp.MustCompile(`\s+`)

// sanitizeFilename tames phone-generated capture filenames before they become
// storage paths
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	base = filenameJunk.ReplaceAllString(base, "")
	base = strings.TrimSpace(filenameSpaces.ReplaceAllString(base, " "))
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "capture"
	}
	return base + ext
}

// discardStored removes an orphaned server-side copy after a capture that
// produced no document
func (s *Server) discardStored(image *CapturedImage) {
	if image.StoredName == "" {
		return
	}
	storage := s.service.Storage()
	if storage == nil {
		return
	}
	if err := storage.Delete(image.StoredName); err != nil {
		slog.Warn("Failed to delete stored capture", "file", image.StoredName, "error", err)
	}
}

// handleScan runs one intake session over an uploaded capture.
//
// The duplicate-resolution prompt crosses the HTTP boundary as a 409: the
// client shows the Cancel/Update choice and re-posts the same capture with
// resolution=update or resolution=cancel.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	maxFormSize := int64(50 << 20) // high-resolution phone photos
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Error parsing form"})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "File is too large. Maximum size is 50MB."})
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" {
		contentType = ContentTypeForFilename(header.Filename)
	}

	// The client's own capture reference is the dedup key in the default
	// hash mode, so it must survive the upload.
	imageURI := r.FormValue("imageUri")
	if imageURI == "" {
		imageURI = header.Filename
	}
	resolution := strings.ToLower(r.FormValue("resolution"))

	image := CapturedImage{
		URI:         imageURI,
		ContentType: contentType,
		Data:        data,
	}
	if storage := s.service.Storage(); storage != nil {
		name := fmt.Sprintf("%s_%s", s.service.idGenerator.Generate(), sanitizeFilename(header.Filename))
		stored, err := storage.Save(name, data)
		if err != nil {
			slog.Error("Error storing capture", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error storing capture. Please try again."})
			return
		}
		image.StoredName = stored
	}

	session := s.service.NewSession(ImageCamera{Image: image})
	if err := session.Capture(r.Context()); err != nil && session.State() == StateFailed {
		s.discardStored(&image)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Processing failed. Please try again."})
		return
	}

	if session.State() == StateAwaitingDuplicateResolution {
		switch resolution {
		case "update":
			if err := session.ResolveDuplicate(r.Context(), true); err != nil && session.State() == StateFailed {
				s.discardStored(&image)
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Processing failed. Please try again."})
				return
			}
		case "cancel":
			_ = session.ResolveDuplicate(r.Context(), false)
			s.discardStored(&image)
			writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
			return
		default:
			existingID := session.DuplicateOf()
			s.discardStored(&image)
			writeJSON(w, http.StatusConflict, map[string]string{
				"error":      "Duplicate scan detected",
				"existingId": existingID,
				"imageHash":  session.ImageHash(),
			})
			return
		}
	}

	switch session.State() {
	case StateDone:
		doc, err := s.service.Store().GetDocument(r.Context(), session.DocumentID())
		if err != nil {
			slog.Error("Error loading persisted document", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	case StateRejected:
		s.discardStored(&image)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      fmt.Sprintf("This doesn't appear to be a receipt (%d%% confidence). Please try again.", session.Confidence()),
			"confidence": session.Confidence(),
		})
	default:
		s.discardStored(&image)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Processing failed. Please try again."})
	}
}

// handleListDocuments returns all documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.Store().ListDocuments(r.Context())
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Document ID required", http.StatusBadRequest)
		return
	}
	doc, err := s.service.Store().GetDocument(r.Context(), id)
	if err != nil {
		corsError(w, "Document not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleGetDocumentFile serves the stored capture for a document
func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Document ID required", http.StatusBadRequest)
		return
	}
	doc, err := s.service.Store().GetDocument(r.Context(), id)
	if err != nil {
		corsError(w, "Document not found", http.StatusNotFound)
		return
	}
	storage := s.service.Storage()
	if storage == nil || doc.FileName == "" {
		corsError(w, "No stored capture for this document", http.StatusNotFound)
		return
	}
	data, err := storage.Get(doc.FileName)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", ContentTypeForFilename(doc.FileName))
	w.Write(data)
}

// handleConfirmDocument runs the review/confirm stage for a document
func (s *Server) handleConfirmDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Document ID required", http.StatusBadRequest)
		return
	}

	var req struct {
		CategoryID string `json:"categoryId"`
		BudgetID   string `json:"budgetId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	review := s.service.NewReview()
	if err := review.Load(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			corsError(w, "Document not found", http.StatusNotFound)
		case errors.Is(err, ErrMalformedPayload):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "Invalid receipt data"})
		default:
			slog.Error("Error loading review", "error", err)
			corsError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if req.CategoryID != "" {
		if err := review.SetCategory(req.CategoryID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.BudgetID != "" {
		if err := review.SetBudget(req.BudgetID); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	if err := review.Confirm(r.Context()); err != nil {
		if errors.Is(err, ErrSelectionRequired) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("Error confirming document", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Confirm failed. Please retry."})
		return
	}

	writeJSON(w, http.StatusOK, review.Document())
}

// handleListCategories returns the category lookup set
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.service.Store().ListCategories(r.Context())
	if err != nil {
		slog.Error("Error listing categories", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// handleListBudgets returns the budget lookup set
func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.service.Store().ListBudgets(r.Context())
	if err != nil {
		slog.Error("Error listing budgets", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, budgets)
}
