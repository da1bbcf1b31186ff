// Package server exposes the transcription and synthesis orchestrators over
// HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
)

const (
	formFieldAudio     = "audio"
	headerContentType  = "Content-Type"
	headerDisposition  = "Content-Disposition"
	contentTypeJSON    = "application/json"
	multipartMemory    = 8 << 20
	corsMaxAgeSeconds  = 300
	rateLimitWindow    = time.Minute
	detailMissingAudio = "field 'audio' is required"
	detailBadJSON      = "request body must be a JSON object with a 'text' field"
	detailTooLarge     = "upload exceeds the maximum size of "
)

const (
	logFmtRequest      = "%s %s -> %d (%s, %s) [%s]"
	logFmtWriteFailed  = "Failed to write response: %v"
	logFmtCloseAudio   = "Failed to close synthesized audio: %v"
	logFmtUploadFailed = "Rejected upload: %v"
)

// Transcriber converts uploaded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Synthesizer converts text to WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) (*tts.Audio, error)
}

// Readiness reports whether the recognition model is loaded without loading it.
type Readiness interface {
	Loaded() bool
}

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigins    []string
	MaxUploadBytes    int64
	RequestsPerMinute int
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	transcriber Transcriber
	synthesizer Synthesizer
	readiness   Readiness
	opts        Options
	log         *logger.Logger
}

// New creates a Server.
func New(
	transcriber Transcriber,
	synthesizer Synthesizer,
	readiness Readiness,
	opts Options,
	log *logger.Logger,
) *Server {
	return &Server{
		transcriber: transcriber,
		synthesizer: synthesizer,
		readiness:   readiness,
		opts:        opts,
		log:         log,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         corsMaxAgeSeconds,
	}))

	router.Get("/health", s.handleHealth)
	router.Get("/readyz", s.handleReady)

	router.Group(func(r chi.Router) {
		if s.opts.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(s.opts.RequestsPerMinute, rateLimitWindow))
		}

		r.Post("/stt", s.handleSTT)
		r.Post("/tts", s.handleTTS)
	})

	return router
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type readyResponse struct {
	OK          bool `json:"ok"`
	ModelLoaded bool `json:"model_loaded"`
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{OK: true})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, readyResponse{OK: true, ModelLoaded: s.readiness.Loaded()})
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if s.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}

	err := r.ParseMultipartForm(multipartMemory)
	if err != nil {
		s.rejectUpload(w, err)

		return
	}

	file, header, err := r.FormFile(formFieldAudio)
	if err != nil {
		s.rejectUpload(w, err)

		return
	}
	defer file.Close()

	text, err := s.transcriber.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: err.Error()})

		return
	}

	s.writeJSON(w, http.StatusOK, transcriptionResponse{Text: text})
}

func (s *Server) rejectUpload(w http.ResponseWriter, err error) {
	s.log.Warn(logFmtUploadFailed, err)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Detail: detailTooLarge + humanize.Bytes(uint64(tooLarge.Limit)),
		})

		return
	}

	s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: detailMissingAudio})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req core.SynthesisRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: detailBadJSON})

		return
	}

	audio, err := s.synthesizer.Synthesize(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrValidation) {
			status = http.StatusUnprocessableEntity
		}

		s.writeJSON(w, status, errorResponse{Detail: err.Error()})

		return
	}

	defer func() {
		closeErr := audio.Close()
		if closeErr != nil {
			s.log.Warn(logFmtCloseAudio, closeErr)
		}
	}()

	w.Header().Set(headerContentType, audio.ContentType)
	w.Header().Set(headerDisposition, `attachment; filename="`+audio.Filename+`"`)
	http.ServeContent(w, r, audio.Filename, audio.ModTime, audio.Stream)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Warn(logFmtWriteFailed, err)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(wrapped, r)

		status := wrapped.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.log.Info(logFmtRequest, r.Method, r.URL.Path, status,
			humanize.Bytes(uint64(wrapped.BytesWritten())),
			time.Since(started).Round(time.Millisecond),
			middleware.GetReqID(r.Context()))
	})
}
