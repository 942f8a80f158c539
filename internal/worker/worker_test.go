// Package worker_test tests the NATS worker for the resonator bridge.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/resonator-bridge/internal/core"
	"github.com/book-expert/resonator-bridge/internal/wav"
	"github.com/book-expert/resonator-bridge/internal/worker"
)

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
)

// mockObjectStore is a mock implementation of the ObjectStore interface. It
// serves a fixed WAV payload for every download.
type mockObjectStore struct {
	servedWAV          []byte
	downloadShouldFail bool
	uploadShouldFail   bool
	downloadedKey      string
	uploadedKey        string
	uploadedData       []byte
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	if m.downloadShouldFail {
		return nil, errMockDownload
	}

	m.downloadedKey = key

	return m.servedWAV, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	if m.uploadShouldFail {
		return errMockUpload
	}

	m.uploadedKey = key
	m.uploadedData = data

	return nil
}

// mockProcessor is a mock implementation of the AudioProcessor interface.
type mockProcessor struct {
	result          core.ProcessResult
	snapshot        core.ModelState
	processedAudio  *core.AudioBuffer
	processedParams core.GenerationParams
}

func (m *mockProcessor) Process(
	_ context.Context,
	audio *core.AudioBuffer,
	parameters core.GenerationParams,
) core.ProcessResult {
	m.processedAudio = audio
	m.processedParams = parameters

	if m.result.Audio == nil {
		return core.ProcessResult{Audio: audio, Outcome: m.result.Outcome, Err: nil}
	}

	return m.result
}

func (m *mockProcessor) Snapshot() core.ModelState {
	return m.snapshot
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func inputWAV(t *testing.T) []byte {
	t.Helper()

	return wav.Encode(&core.AudioBuffer{
		Samples:    []float32{0.1, -0.2, 0.3, -0.4},
		SampleRate: 48000,
	})
}

func setupTest(t *testing.T) (*mockObjectStore, *mockProcessor, *nats.Conn) {
	t.Helper()

	mockStore := &mockObjectStore{
		servedWAV:          inputWAV(t),
		downloadShouldFail: false,
		uploadShouldFail:   false,
		downloadedKey:      "",
		uploadedKey:        "",
		uploadedData:       nil,
	}
	processor := &mockProcessor{
		result: core.ProcessResult{
			Audio:   nil,
			Outcome: core.OutcomeGenerated,
			Err:     nil,
		},
		snapshot:        core.ModelState{Status: core.StatusLoaded, ModelType: core.ModelTypeTurbo},
		processedAudio:  nil,
		processedParams: core.GenerationParams{},
	}

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testLogger.Close() })

	workerInstance, err := worker.NewNatsWorker(
		natsConnection, "resonator.infer.test", mockStore, processor, testLogger,
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()

		shutdownErr := <-errChan
		assert.NoError(t, shutdownErr, "worker.Run should not error on graceful shutdown")
	})

	return mockStore, processor, natsConnection
}

func testEvent() *worker.InferRequestedEvent {
	return &worker.InferRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:        "input-audio-key",
		Prompt:          "bowed metal",
		GuidanceScale:   15.0,
		NumSteps:        20,
		Seed:            7,
		InputStrength:   0.6,
		Shift:           5.0,
		InferMethod:     "ode",
		Entropy:         0.25,
		Granularity:     0.45,
		AudioDuration:   10.0,
		DenoiseStrength: 1.0,
	}
}

func TestWorkerProcessesInferJob(t *testing.T) {
	t.Parallel()

	mockStore, processor, natsConnection := setupTest(t)

	event := testEvent()
	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("resonator.infer.test", eventData, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.AudioTransformedEvent

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)

	assert.Equal(t, "input-audio-key", mockStore.downloadedKey)
	require.NotNil(t, processor.processedAudio)
	assert.Equal(t, 48000, processor.processedAudio.SampleRate)
	assert.Len(t, processor.processedAudio.Samples, 4)
	assert.Equal(t, 20, processor.processedParams.EffectiveSteps)

	assert.NotEmpty(t, mockStore.uploadedKey, "a result key should have been generated and uploaded")
	assert.Equal(t, mockStore.uploadedKey, reply.AudioKey)
	assert.Equal(t, string(core.OutcomeGenerated), reply.Outcome)
	assert.Equal(t, string(core.ModelTypeTurbo), reply.ModelType)
	assert.Equal(t, 4, reply.NumSamples)
	assert.Equal(t, 48000, reply.SampleRate)
	assert.Equal(t, event.Header.WorkflowID, reply.Header.WorkflowID)

	// The uploaded payload must be a decodable WAV of the processed buffer.
	uploaded, decodeErr := wav.Decode(mockStore.uploadedData)
	require.NoError(t, decodeErr)
	assert.Len(t, uploaded.Samples, 4)
}

func TestWorkerReportsPassthroughOutcome(t *testing.T) {
	t.Parallel()

	mockStore, processor, natsConnection := setupTest(t)
	processor.result.Outcome = core.OutcomePassthroughUnloaded
	processor.snapshot = core.ModelState{Status: core.StatusUnloaded, ModelType: core.ModelTypeUnknown}

	eventData, err := json.Marshal(testEvent())
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("resonator.infer.test", eventData, 5*time.Second)
	require.NoError(t, err)

	var reply worker.AudioTransformedEvent

	err = json.Unmarshal(replyMsg.Data, &reply)
	require.NoError(t, err)

	assert.Equal(t, string(core.OutcomePassthroughUnloaded), reply.Outcome)
	assert.NotEmpty(t, mockStore.uploadedKey, "passthrough output is still uploaded")
}

func TestWorkerDropsUndecodableAudio(t *testing.T) {
	t.Parallel()

	mockStore, _, natsConnection := setupTest(t)
	mockStore.servedWAV = []byte("not a wav container")

	eventData, err := json.Marshal(testEvent())
	require.NoError(t, err)

	_, err = natsConnection.Request("resonator.infer.test", eventData, 500*time.Millisecond)
	require.Error(t, err, "a dropped job must produce no reply")
	assert.Empty(t, mockStore.uploadedKey)
}
