package marksheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/marksheet-extractor/internal/pipeline"
)

// Transport-level kinds, alongside the pipeline's.
const (
	kindInvalidRequest pipeline.Kind = "invalid_request"
	kindInternal       pipeline.Kind = "internal_error"
	kindNotFound       pipeline.Kind = "not_found"
)

// multipartOverhead is allowed on top of the upload limit for form framing.
const multipartOverhead = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Expose-Headers", "X-Extraction-ID")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes the {"kind", "error"} error body
func writeError(w http.ResponseWriter, kind pipeline.Kind, detail string, status int) {
	writeJSON(w, status, map[string]string{
		"kind":  string(kind),
		"error": detail,
	})
}

// detectContentType prefers the part header, then the extension, then sniffing
func detectContentType(header string, filename string, data []byte) string {
	if ct, _, err := mime.ParseMediaType(header); err == nil && ct != "application/octet-stream" {
		return strings.ToLower(ct)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	}
	ct, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return ct
}

// handleParse runs an uploaded marksheet through the pipeline
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, pipeline.KindPayloadTooLarge,
				fmt.Sprintf("file is too large, limit is %d bytes", s.maxUploadBytes), http.StatusBadRequest)
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, kindInvalidRequest, "error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, kindInvalidRequest, "no file provided in form field \"file\"", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, kindInternal, "error reading file", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename, data)

	rec, err := s.service.ProcessDocument(r.Context(), header.Filename, data, contentType)
	if rec != nil {
		w.Header().Set("X-Extraction-ID", rec.ID)
	}
	if err != nil {
		kind := pipeline.KindOf(err)
		if kind == "" {
			slog.Error("Error processing document", "filename", header.Filename, "error", err)
			writeError(w, kindInternal, err.Error(), http.StatusInternalServerError)
			return
		}
		detail := err.Error()
		if rec != nil && rec.Detail != "" {
			detail = rec.Detail
		}
		writeError(w, kind, detail, kind.HTTPStatus())
		return
	}

	writeJSON(w, http.StatusOK, rec.Result)
}

// handleListExtractions returns the extraction history
func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	extractions, err := s.service.ListExtractions()
	if err != nil {
		slog.Error("Error listing extractions", "error", err)
		writeError(w, kindInternal, "internal server error", http.StatusInternalServerError)
		return
	}
	if extractions == nil {
		extractions = []*Extraction{}
	}
	writeJSON(w, http.StatusOK, extractions)
}

// handleGetExtraction returns a single extraction record
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.GetExtraction(r.PathValue("id"))
	if err != nil {
		s.lookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleGetExtractionFile returns the archived document of an extraction
func (s *Server) handleGetExtractionFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetExtractionFile(r.PathValue("id"))
	if err != nil {
		s.lookupError(w, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteExtraction deletes an extraction and its archived document
func (s *Server) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExtraction(r.PathValue("id")); err != nil {
		s.lookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) lookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, kindNotFound, "not found", http.StatusNotFound)
		return
	}
	slog.Error("Error reading extraction history", "error", err)
	writeError(w, kindInternal, "internal server error", http.StatusInternalServerError)
}
