// Package worker provides a NATS worker that runs inference jobs through the
// model manager, as an alternative transport to the HTTP façade.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/resonator-bridge/internal/core"
	"github.com/book-expert/resonator-bridge/internal/params"
	"github.com/book-expert/resonator-bridge/internal/wav"
)

const handleMessageTimeout = 10 * time.Minute

// InferRequestedEvent is the job payload published to the infer subject. The
// audio rides in the object store under AudioKey; the remaining fields are the
// generation controls, fully specified by the publisher.
type InferRequestedEvent struct {
	Header events.EventHeader `json:"header"`

	AudioKey string `json:"audio_key"`

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

// AudioTransformedEvent is the reply payload: the processed audio's object
// store key plus how the request was resolved.
type AudioTransformedEvent struct {
	Header events.EventHeader `json:"header"`

	AudioKey   string  `json:"audio_key"`
	Outcome    string  `json:"outcome"`
	ModelType  string  `json:"model_type"`
	NumSamples int     `json:"num_samples"`
	SampleRate int     `json:"sample_rate"`
	DurationMs float64 `json:"duration_ms"`
}

// NatsWorker listens for inference jobs on a NATS subject and processes them.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	processor      core.AudioProcessor
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	processor core.AudioProcessor,
	log *logger.Logger,
) (*NatsWorker, error) {
	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		processor:      processor,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	event, err := w.parseEvent(msg)
	if err != nil {
		w.log.Error("Failed to parse infer event: %v", err)

		return
	}

	reply, processErr := w.processInferJob(ctx, event)
	if processErr != nil {
		w.log.Error(
			"Failed to process infer job for workflow %s: %v",
			event.Header.WorkflowID, processErr,
		)

		return
	}

	err = w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error(
			"Failed to publish reply for workflow %s: %v",
			event.Header.WorkflowID, err,
		)
	}
}

// processInferJob downloads the input audio, runs it through the model
// manager and uploads the result under a fresh key.
func (w *NatsWorker) processInferJob(
	ctx context.Context,
	event *InferRequestedEvent,
) (*AudioTransformedEvent, error) {
	wavData, err := w.store.Download(ctx, event.AudioKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio for key '%s': %w", event.AudioKey, err)
	}

	audio, decodeErr := wav.Decode(wavData)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode audio for key '%s': %w", event.AudioKey, decodeErr)
	}

	mapped := params.Map(params.Controls{
		Prompt:          event.Prompt,
		GuidanceScale:   event.GuidanceScale,
		NumSteps:        event.NumSteps,
		Seed:            event.Seed,
		InputStrength:   event.InputStrength,
		Shift:           event.Shift,
		InferMethod:     event.InferMethod,
		Entropy:         event.Entropy,
		Granularity:     event.Granularity,
		AudioDuration:   event.AudioDuration,
		DenoiseStrength: event.DenoiseStrength,
	})

	started := time.Now()
	result := w.processor.Process(ctx, audio, mapped)
	elapsedMs := float64(time.Since(started)) / float64(time.Millisecond)

	resultKey := uuid.NewString() + ".wav"

	err = w.store.Upload(ctx, resultKey, wav.Encode(result.Audio))
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio for key '%s': %w", resultKey, err)
	}

	return &AudioTransformedEvent{
		Header:     event.Header,
		AudioKey:   resultKey,
		Outcome:    string(result.Outcome),
		ModelType:  string(w.processor.Snapshot().ModelType),
		NumSamples: len(result.Audio.Samples),
		SampleRate: result.Audio.SampleRate,
		DurationMs: elapsedMs,
	}, nil
}

// publishReplyEvent marshals and responds with the AudioTransformedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *AudioTransformedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func (w *NatsWorker) parseEvent(msg *nats.Msg) (*InferRequestedEvent, error) {
	var event InferRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
