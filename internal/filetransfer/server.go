// Package filetransfer implements the loopback HTTP artefact store
// (component H): PUT/GET/DELETE under a configured data directory. Writes
// land in a temp file first and are renamed into place, the same
// crash-safe pattern the teacher's registry manager uses for model blob
// downloads (internal/infra/registry/manager.go) — a write that dies
// mid-stream never corrupts a previously stored file.
package filetransfer

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Server serves files rooted at Dir over plain HTTP verbs.
type Server struct {
	dir string
	log zerolog.Logger
}

// New returns a Server rooted at dir. The directory is created on first use.
func New(dir string, log zerolog.Logger) *Server {
	return &Server{dir: dir, log: log.With().Str("component", "file-transfer").Logger()}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/te/v1/files/", s.handle)
	return mux
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/te/v1/files/")
	path, err := s.resolve(rel)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.put(w, r, path)
	case http.MethodGet:
		s.get(w, path)
	case http.MethodDelete:
		s.delete(w, path)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// resolve rejects paths that would escape s.dir via "..".
func (s *Server) resolve(rel string) (string, error) {
	if rel == "" {
		return "", os.ErrInvalid
	}
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.dir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.dir)+string(filepath.Separator)) {
		return "", os.ErrInvalid
	}
	return full, nil
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tmp := filepath.Join(filepath.Dir(path), ".upload-"+filepath.Base(path)+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(f, r.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		http.Error(w, "write failed", http.StatusInternalServerError)
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.log.Error().Err(err).Str("path", path).Msg("rename failed")
		os.Remove(tmp)
		http.Error(w, "rename failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) get(w http.ResponseWriter, path string) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

func (s *Server) delete(w http.ResponseWriter, path string) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
