package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxUploadBytes = 10 << 20 // 10 MiB

var allowedUploadExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".webp": {},
	".svg":  {},
}

type uploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// handleUpload stores a multipart logo upload and returns the file
// reference used as the image input on submission.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.localStore == nil && s.presigner == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"storage not configured"})

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"multipart field 'file' is required"})

		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if _, ok := allowedUploadExtensions[ext]; !ok {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"unsupported file type"})

		return
	}

	key := fmt.Sprintf(
		"uploads/%s/%s%s",
		time.Now().UTC().Format("2006-01-02"),
		uuid.New().String(),
		ext,
	)

	if s.localStore != nil {
		err = s.localStore.Save(key, file)
	} else {
		err = s.presigner.Save(r.Context(), key, file)
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to store upload")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to store upload"})

		return
	}

	metricUploads.Inc()

	writeJSON(w, http.StatusCreated, uploadResponse{
		Key: key,
		URL: "/api/v1/files/" + key,
	})
}

// handleFileRequest serves files from local storage or generates a
// presigned S3 URL, depending on which backend is configured.
func (s *server) handleFileRequest(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"file path is required"})

		return
	}

	// Local file serving takes priority.
	if s.localStore != nil {
		if err := s.localStore.ServeFile(w, r, filePath); err != nil {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"file not found"})
		}

		return
	}

	if s.presigner != nil {
		// HEAD requests: return object metadata directly so the UI can
		// read Content-Length without presigned URL indirection.
		if r.Method == http.MethodHead {
			s.handleS3Head(w, r, filePath)

			return
		}

		url, err := s.presigner.GeneratePresignedURL(r.Context(), filePath)
		if err != nil {
			s.log.WithError(err).
				WithField("path", filePath).
				Warn("Failed to generate presigned URL")

			writeJSON(w, http.StatusForbidden,
				errorResponse{"path not allowed or presign failed"})

			return
		}

		// When redirect=true, issue a 302 to the presigned URL so
		// <img src="...?redirect=true"> loads the object directly.
		if r.URL.Query().Get("redirect") == "true" {
			http.Redirect(w, r, url, http.StatusFound)

			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"url": url})

		return
	}

	writeJSON(w, http.StatusNotFound,
		errorResponse{"storage not configured"})
}

// handleS3Head writes the object's Content-Length and Content-Type so
// the UI can determine file sizes without downloading the object.
func (s *server) handleS3Head(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) {
	result, err := s.presigner.HeadObject(r.Context(), filePath)
	if err != nil {
		s.log.WithError(err).
			WithField("path", filePath).
			Debug("S3 HeadObject failed")

		w.WriteHeader(http.StatusNotFound)

		return
	}

	if result.ContentType != nil {
		w.Header().Set("Content-Type", *result.ContentType)
	}

	if result.ContentLength != nil {
		w.Header().Set(
			"Content-Length", strconv.FormatInt(*result.ContentLength, 10),
		)
	}

	w.WriteHeader(http.StatusOK)
}
