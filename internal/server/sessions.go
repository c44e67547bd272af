package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/observe"
)

// contentTyper is implemented by resources that know their MIME type.
type contentTyper interface {
	ContentType() string
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess, false))
}

// handleDeleteSession handles DELETE /api/sessions/{id}.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Close(id); err != nil {
		if errors.Is(err, karaoke.ErrSessionNotFound) {
			s.fail(w, r, err)
			return
		}
		observe.Logger(r.Context()).Warn("server: session closed with error", "session_id", id, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAudio handles GET /api/sessions/{id}/audio. Range requests are
// honoured so hosts can seek.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res := sess.Resource()
	if res == nil {
		writeError(w, http.StatusNotFound, "session has no audio")
		return
	}

	f, err := os.Open(res.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "audio no longer available")
			return
		}
		s.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ct, ok := res.(contentTyper); ok {
		w.Header().Set("Content-Type", ct.ContentType())
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleReplaceAudio handles PUT /api/sessions/{id}/audio. The transcript
// is kept; only the playable file changes and the previous one is released.
func (s *Server) handleReplaceAudio(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.Get(id); err != nil {
		s.fail(w, r, err)
		return
	}

	up, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.sessions.Replace(id, up.file); err != nil {
		if errors.Is(err, karaoke.ErrSessionNotFound) || errors.Is(err, karaoke.ErrSessionClosed) {
			_ = up.file.Release()
			s.fail(w, r, err)
			return
		}
		// The new file is in place; only releasing the old one failed.
		observe.Logger(r.Context()).Warn("server: release replaced audio", "session_id", id, "err", err)
	}

	sess, err := s.sessions.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess, false))
}
