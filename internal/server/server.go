package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vitali87/LinuxWhisper/internal/asr"
	"github.com/vitali87/LinuxWhisper/internal/bus"
	"github.com/vitali87/LinuxWhisper/internal/config"
	"github.com/vitali87/LinuxWhisper/internal/history"
	"github.com/vitali87/LinuxWhisper/internal/protocol"
	"github.com/vitali87/LinuxWhisper/internal/recorder"
)

// maxUploadBytes caps a single audio upload. Dictation captures are short;
// anything larger is a misdirected request.
var maxUploadBytes int64 = 64 << 20

// Server is the whisperd HTTP front end. It accepts audio uploads, runs the
// recognizer, records history, and optionally broadcasts transcripts.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	recognizer asr.Recognizer
	hist       *history.Store
	bus        *bus.Client

	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
	clock       func() time.Time

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

func New(cfg config.Config, recognizer asr.Recognizer, hist *history.Store, busClient *bus.Client, log *slog.Logger) *Server {
	meter := otel.Meter("whisperd")
	requests, _ := meter.Int64Counter("whisperd.transcribe.requests",
		metric.WithDescription("Transcription requests by outcome"))
	latency, _ := meter.Float64Histogram("whisperd.transcribe.latency_ms",
		metric.WithDescription("End-to-end transcription latency"))

	return &Server{
		cfg:        cfg,
		log:        log,
		recognizer: recognizer,
		hist:       hist,
		bus:        busClient,
		clock:      time.Now,
		requests:   requests,
		latency:    latency,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(s.cfg, s.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	s.tracerClose = shutdownTelemetry

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Bind, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	s.ready.Store(true)
	s.log.Info("whisperd started",
		slog.String("addr", addr),
		slog.String("mode", s.cfg.Server.Mode),
		slog.String("model", s.cfg.Server.Model))

	<-ctx.Done()
	s.log.Info("whisperd stopping")
	s.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("http shutdown error", slog.String("error", err.Error()))
	}
	s.wg.Wait()

	if s.tracerClose != nil {
		if err := s.tracerClose(shutdownCtx); err != nil {
			s.log.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (s *Server) routes(metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", s.handleTranscribe)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	return mux
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	started := s.clock()

	audioPath, audioBytes, err := s.saveUpload(r)
	if err != nil {
		s.count(r.Context(), "rejected")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.Remove(audioPath)

	info, err := recorder.Probe(audioPath)
	if err != nil {
		s.count(r.Context(), "rejected")
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unusable audio: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.Server.TranscribeTimeoutMS)*time.Millisecond)
	defer cancel()

	result, err := s.recognizer.Transcribe(ctx, audioPath)
	if err != nil {
		s.count(r.Context(), "failed")
		s.log.Error("transcription failed", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("transcription failed: %v", err))
		return
	}
	text := strings.TrimSpace(result.Text)
	latency := s.clock().Sub(started)

	s.count(r.Context(), "ok")
	s.latency.Record(r.Context(), float64(latency.Milliseconds()))
	s.log.Info("transcription complete",
		slog.Int64("audio_bytes", audioBytes),
		slog.Duration("audio", info.Duration),
		slog.Duration("latency", latency),
		slog.Int("chars", len(text)))

	if s.hist != nil {
		entry := history.Entry{
			Text:       text,
			AudioBytes: audioBytes,
			AudioMS:    info.Duration.Milliseconds(),
			LatencyMS:  latency.Milliseconds(),
			Model:      s.cfg.Server.Model,
		}
		if err := s.hist.Append(r.Context(), entry); err != nil {
			s.log.Warn("history append failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		t := protocol.Transcript{
			Text:      text,
			AudioMS:   info.Duration.Milliseconds(),
			LatencyMS: latency.Milliseconds(),
			Model:     s.cfg.Server.Model,
			Timestamp: s.clock().UTC(),
		}
		if err := s.bus.PublishTranscript(t); err != nil {
			s.log.Warn("transcript publish failed", slog.String("error", err.Error()))
		}
	}

	s.writeJSON(w, http.StatusOK, protocol.TranscriptionResponse{Transcription: text})
}

// saveUpload spools the request audio to a temp file. It accepts a multipart
// form with a "file" part, or a raw WAV body for curl-style callers.
func (s *Server) saveUpload(r *http.Request) (string, int64, error) {
	var src io.Reader

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		r.Body = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return "", 0, fmt.Errorf("parse upload: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return "", 0, errors.New(`upload must carry a "file" part`)
		}
		defer file.Close()
		src = file
	} else {
		src = http.MaxBytesReader(nil, r.Body, maxUploadBytes)
	}

	tmp, err := os.CreateTemp("", "whisperd_*.wav")
	if err != nil {
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	if n == 0 {
		os.Remove(tmp.Name())
		return "", 0, errors.New("empty audio upload")
	}
	return tmp.Name(), n, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	var entries []history.Entry
	if s.hist != nil {
		var err error
		entries, err = s.hist.List(r.Context(), limit)
		if err != nil {
			s.log.Error("history list failed", slog.String("error", err.Error()))
			s.writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) count(ctx context.Context, outcome string) {
	s.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response failed", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}
