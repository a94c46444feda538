package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/beamdrop/beamdrop/internal/staging"
	"github.com/beamdrop/beamdrop/internal/web"
	"github.com/beamdrop/beamdrop/pkg/protocol"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.UserAgent() == "" {
		http.Error(w, "request without a User-Agent header", http.StatusBadRequest)
		return
	}
	class := protocol.ClassifyUserAgent(r.UserAgent())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(web.Landing(class))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Write(s.qrPNG)
}

// handleUploadDesktop stages a desktop-originated upload for later
// archive packaging.
func (s *Server) handleUploadDesktop(w http.ResponseWriter, r *http.Request) {
	f, ok := s.consumeUpload(w, r, protocol.Desktop)
	if !ok {
		return
	}
	s.staging.Add(f)
	s.finishUpload(w, f)
}

// handleUploadMobile streams a mobile-originated upload to durable
// storage on the worker pool so large transfers cannot stall unrelated
// requests.
func (s *Server) handleUploadMobile(w http.ResponseWriter, r *http.Request) {
	f, ok := s.consumeUpload(w, r, protocol.Mobile)
	if !ok {
		return
	}
	err := s.pool.Do(r.Context(), func() error {
		path := filepath.Join(s.cfg.StorageDir, filepath.Base(f.Name))
		return os.WriteFile(path, f.Bytes, 0o644)
	})
	if err != nil {
		s.logger.Error("could not store upload", "name", f.Name, "error", err)
		http.Error(w, "error storing file", http.StatusInternalServerError)
		return
	}
	s.finishUpload(w, f)
}

func (s *Server) consumeUpload(w http.ResponseWriter, r *http.Request, origin protocol.DeviceClass) (staging.File, bool) {
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expected a multipart/form-data body", http.StatusBadRequest)
		return staging.File{}, false
	}
	f, err := s.pipeline.Consume(mr, origin)
	if err != nil {
		s.logger.Warn("upload rejected", "origin", origin, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return staging.File{}, false
	}
	s.logger.Info("upload complete", "name", f.Name, "bytes", f.Size, "origin", origin)
	return f, true
}

func (s *Server) finishUpload(w http.ResponseWriter, f staging.File) {
	if s.cfg.EvictCompleted {
		s.registry.Evict(f.Name)
	}
	w.WriteHeader(http.StatusOK)
}

// handleDownload packages the current staging snapshot into a zip. The
// build runs on the worker pool, never on the request goroutine.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var archive []byte
	err := s.pool.Do(r.Context(), func() error {
		var buildErr error
		archive, buildErr = s.engine.Build()
		return buildErr
	})
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return
		}
		s.logger.Error("packaging failed", "error", err)
		http.Error(w, "error packaging files", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="beamdrop.zip"`)
	if _, err := w.Write(archive); err != nil {
		s.logger.Warn("archive download interrupted", "error", err)
		return
	}
	if s.cfg.PurgeAfterDownload {
		n := s.staging.Clear()
		s.logger.Info("purged staging after download", "files", n)
	}
}
