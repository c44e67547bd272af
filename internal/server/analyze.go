package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/sinfonia/internal/analysis"
	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/internal/media"
	"github.com/MrWong99/sinfonia/internal/observe"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

// errBadUpload is returned for a malformed multipart upload.
var errBadUpload = errors.New("invalid upload")

// maxLanguageLen bounds the target_language form field.
const maxLanguageLen = 64

// sessionResponse is returned by POST /api/analyze and GET /api/sessions/{id}.
type sessionResponse struct {
	SessionID string           `json:"session_id"`
	AudioURL  string           `json:"audio_url"`
	SyncURL   string           `json:"sync_url"`
	Cached    bool             `json:"cached,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Line      int              `json:"line"`
	Word      int              `json:"word"`
	Analysis  *lyrics.Analysis `json:"analysis"`
}

func newSessionResponse(sess *karaoke.Session, cached bool) sessionResponse {
	st := sess.State()
	return sessionResponse{
		SessionID: sess.ID(),
		AudioURL:  "/api/sessions/" + sess.ID() + "/audio",
		SyncURL:   "/api/sessions/" + sess.ID() + "/sync",
		Cached:    cached,
		CreatedAt: sess.CreatedAt(),
		Line:      st.Line,
		Word:      st.Word,
		Analysis:  sess.Analysis(),
	}
}

// upload is a parsed analyze/replace request.
type upload struct {
	file           *media.File
	targetLanguage string
}

// readUpload streams the multipart body straight into the media store. The
// "file" part is required; "target_language" is optional.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.files.MaxBytes()+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}

	up := &upload{}
	fail := func(err error) (*upload, error) {
		if up.file != nil {
			_ = up.file.Release()
		}
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				return fail(err)
			}
			return fail(fmt.Errorf("%w: %v", errBadUpload, err))
		}

		switch part.FormName() {
		case "file":
			if up.file != nil {
				_ = part.Close()
				return fail(fmt.Errorf("%w: more than one file", errBadUpload))
			}
			f, err := s.files.Put(r.Context(), part, part.FileName(), part.Header.Get("Content-Type"))
			_ = part.Close()
			if err != nil {
				return fail(err)
			}
			up.file = f
		case "target_language":
			b, err := io.ReadAll(io.LimitReader(part, maxLanguageLen+1))
			_ = part.Close()
			if err != nil {
				return fail(fmt.Errorf("%w: %v", errBadUpload, err))
			}
			if len(b) > maxLanguageLen {
				return fail(fmt.Errorf("%w: target_language is too long", errBadUpload))
			}
			up.targetLanguage = strings.TrimSpace(string(b))
		default:
			_ = part.Close()
		}
	}

	if up.file == nil {
		return nil, fmt.Errorf("%w: file is required", errBadUpload)
	}
	return up, nil
}

// handleAnalyze handles POST /api/analyze.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	up, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	lang := up.targetLanguage
	if lang == "" {
		lang = s.defaultLang
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.analysisTimeout)
	defer cancel()

	res, err := s.analyzer.Analyze(ctx, analysis.Request{
		AudioPath:      up.file.Path(),
		Filename:       up.file.Filename(),
		Digest:         up.file.Digest(),
		TargetLanguage: lang,
		SourceLanguage: s.sourceLang,
	})
	if err != nil {
		_ = up.file.Release()
		s.fail(w, r, err)
		return
	}

	// Create releases the file on failure.
	sess, err := s.sessions.Create(res.Analysis, up.file)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	observe.Logger(r.Context()).Info("server: analysis ready",
		"session_id", sess.ID(),
		"filename", up.file.Filename(),
		"bytes", up.file.Size(),
		"target_language", lang,
		"cached", res.Cached,
	)
	writeJSON(w, http.StatusOK, newSessionResponse(sess, res.Cached))
}
