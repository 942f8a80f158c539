// Package server implements the bridge's HTTP surface: health and status
// snapshots, graceful shutdown, and the inference endpoint that accepts and
// returns base64-encoded WAV buffers.
package server

import (
	"encoding/base64"
	"math"
	"net/http"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/book-expert/logger"
	"github.com/book-expert/resonator-bridge/internal/model"
	"github.com/book-expert/resonator-bridge/internal/params"
	"github.com/book-expert/resonator-bridge/internal/wav"
)

const (
	statusOK           = "ok"
	statusShuttingDown = "shutting_down"

	errMissingAudioField = `Missing "audio" field (base64-encoded WAV)`

	logFmtInferRequest   = "Infer request %s: %d samples at %d Hz, prompt %q"
	logFmtInferResolved  = "Infer request %s resolved: outcome=%s samples=%d elapsed=%.2fms"
	logFmtShutdownCalled = "Shutdown request received, terminating server"
)

// Options carries the static facts the handlers report and the hooks the
// server calls out through.
type Options struct {
	SampleRate int
	BufferSize int
	Version    string

	// Defaults fill every request field the client omits.
	Defaults params.Controls

	// EnableSentry attaches the sentry middleware to the router.
	EnableSentry bool

	// Shutdown is invoked after a /shutdown response has been written. Nil
	// disables the endpoint's side effect.
	Shutdown func()
}

// Server wires the model manager to the HTTP handlers.
type Server struct {
	manager *model.Manager
	log     *logger.Logger
	opts    Options
}

// InferRequest is the /infer payload. Absent fields inherit the configured
// defaults before binding, so the zero value of a present field is honored
// while a missing field is not mistaken for zero.
type InferRequest struct {
	Audio           string  `json:"audio"`
	Prompt          string  `json:"prompt"`
	GuidanceScale   float64 `json:"guidance_scale"`
	NumSteps        int     `json:"num_steps"`
	Seed            int64   `json:"seed"`
	InputStrength   float64 `json:"input_strength"`
	Shift           float64 `json:"shift"`
	InferMethod     string  `json:"infer_method"`
	Entropy         float64 `json:"entropy"`
	Granularity     float64 `json:"granularity"`
	AudioDuration   float64 `json:"audio_duration"`
	DenoiseStrength float64 `json:"denoise_strength"`
}

// InferResponse carries the processed audio back to the client. DurationMs is
// the processing wall time, not the audio length.
type InferResponse struct {
	Audio      string  `json:"audio"`
	SampleRate int     `json:"sample_rate"`
	NumSamples int     `json:"num_samples"`
	DurationMs float64 `json:"duration_ms"`
	ModelUsed  bool    `json:"model_used"`
	ModelType  string  `json:"model_type"`
}

// HealthResponse is the /health body the desktop client polls.
type HealthResponse struct {
	Status         string  `json:"status"`
	ModelLoaded    bool    `json:"model_loaded"`
	ModelType      string  `json:"model_type"`
	Device         string  `json:"device"`
	Error          *string `json:"error"`
	InferenceCount uint64  `json:"inference_count"`
	Timestamp      float64 `json:"timestamp"`
}

// StatusResponse is the /status body: the health fields plus the static
// server configuration.
type StatusResponse struct {
	Status         string  `json:"status"`
	ModelLoaded    bool    `json:"model_loaded"`
	ModelType      string  `json:"model_type"`
	ModelPath      *string `json:"model_path"`
	Device         string  `json:"device"`
	Error          *string `json:"error"`
	InferenceCount uint64  `json:"inference_count"`
	SampleRate     int     `json:"sample_rate"`
	BufferSize     int     `json:"buffer_size"`
	Version        string  `json:"version"`
}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the uniform error body for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewRouter builds the gin engine with all bridge routes attached.
func NewRouter(manager *model.Manager, log *logger.Logger, opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if opts.EnableSentry {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	srv := &Server{
		manager: manager,
		log:     log,
		opts:    opts,
	}

	router.GET("/health", srv.handleHealth)
	router.GET("/status", srv.handleStatus)
	router.POST("/shutdown", srv.handleShutdown)
	router.POST("/infer", srv.handleInfer)

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	snapshot := s.manager.Snapshot()

	c.JSON(http.StatusOK, HealthResponse{
		Status:         statusOK,
		ModelLoaded:    snapshot.Loaded(),
		ModelType:      string(snapshot.ModelType),
		Device:         string(snapshot.Device),
		Error:          nilIfEmpty(snapshot.LoadError),
		InferenceCount: snapshot.InferenceCount,
		Timestamp:      float64(time.Now().UnixNano()) / float64(time.Second),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	snapshot := s.manager.Snapshot()

	c.JSON(http.StatusOK, StatusResponse{
		Status:         statusOK,
		ModelLoaded:    snapshot.Loaded(),
		ModelType:      string(snapshot.ModelType),
		ModelPath:      nilIfEmpty(snapshot.ModelPath),
		Device:         string(snapshot.Device),
		Error:          nilIfEmpty(snapshot.LoadError),
		InferenceCount: snapshot.InferenceCount,
		SampleRate:     s.opts.SampleRate,
		BufferSize:     s.opts.BufferSize,
		Version:        s.opts.Version,
	})
}

func (s *Server) handleShutdown(c *gin.Context) {
	s.log.Info(logFmtShutdownCalled)
	c.JSON(http.StatusOK, ShutdownResponse{Status: statusShuttingDown})

	if s.opts.Shutdown != nil {
		s.opts.Shutdown()
	}
}

func (s *Server) handleInfer(c *gin.Context) {
	request := s.defaultInferRequest()

	bindErr := c.ShouldBindJSON(&request)
	if bindErr != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + bindErr.Error()})

		return
	}

	if request.Audio == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: errMissingAudioField})

		return
	}

	wavBytes, decodeErr := base64.StdEncoding.DecodeString(request.Audio)
	if decodeErr != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid base64 audio: " + decodeErr.Error()})

		return
	}

	audio, wavErr := wav.Decode(wavBytes)
	if wavErr != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: wavErr.Error()})

		return
	}

	requestID := uuid.NewString()
	s.log.Info(logFmtInferRequest, requestID, len(audio.Samples), audio.SampleRate, request.Prompt)

	mapped := params.Map(params.Controls{
		Prompt:          request.Prompt,
		GuidanceScale:   request.GuidanceScale,
		NumSteps:        request.NumSteps,
		Seed:            request.Seed,
		InputStrength:   request.InputStrength,
		Shift:           request.Shift,
		InferMethod:     request.InferMethod,
		Entropy:         request.Entropy,
		Granularity:     request.Granularity,
		AudioDuration:   request.AudioDuration,
		DenoiseStrength: request.DenoiseStrength,
	})

	started := time.Now()
	result := s.manager.Process(c.Request.Context(), audio, mapped)
	elapsedMs := roundHundredths(float64(time.Since(started)) / float64(time.Millisecond))

	s.log.Info(logFmtInferResolved, requestID, result.Outcome, len(result.Audio.Samples), elapsedMs)

	c.JSON(http.StatusOK, InferResponse{
		Audio:      base64.StdEncoding.EncodeToString(wav.Encode(result.Audio)),
		SampleRate: result.Audio.SampleRate,
		NumSamples: len(result.Audio.Samples),
		DurationMs: elapsedMs,
		ModelUsed:  result.Generated(),
		ModelType:  string(s.manager.Snapshot().ModelType),
	})
}

// defaultInferRequest seeds a request with the configured defaults so JSON
// binding only overwrites fields the client actually sent.
func (s *Server) defaultInferRequest() InferRequest {
	defaults := s.opts.Defaults

	return InferRequest{
		Audio:           "",
		Prompt:          defaults.Prompt,
		GuidanceScale:   defaults.GuidanceScale,
		NumSteps:        defaults.NumSteps,
		Seed:            defaults.Seed,
		InputStrength:   defaults.InputStrength,
		Shift:           defaults.Shift,
		InferMethod:     defaults.InferMethod,
		Entropy:         defaults.Entropy,
		Granularity:     defaults.Granularity,
		AudioDuration:   defaults.AudioDuration,
		DenoiseStrength: defaults.DenoiseStrength,
	}
}

func nilIfEmpty(value string) *string {
	if value == "" {
		return nil
	}

	return &value
}

func roundHundredths(value float64) float64 {
	return math.Round(value*100) / 100
}
