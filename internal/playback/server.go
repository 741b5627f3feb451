package playback

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/heimdex/cutplan/internal/logging"
)

// MediaServer serves a session's source media for preview.
type MediaServer interface {
	ServeMedia(w http.ResponseWriter, r *http.Request, mediaPath string) error
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	return &Server{logger: logger}
}

// ServeMedia writes the file with byte-range support. A missing file is
// answered with 404 and is not an error.
func (s *Server) ServeMedia(w http.ResponseWriter, r *http.Request, mediaPath string) error {
	file, err := os.Open(mediaPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "media not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open media: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat media: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "media not found", http.StatusNotFound)
		return nil
	}

	contentType := mime.TypeByExtension(filepath.Ext(mediaPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")

	if s.logger != nil {
		s.logger.Debug("serving media", "path", logging.SanitizePath(mediaPath), "size", stat.Size(), "range", r.Header.Get("Range"))
	}
	http.ServeContent(w, r, stat.Name(), stat.ModTime(), file)
	return nil
}
