// Package engine adapts the external model runner's HTTP API to the bridge's
// inference interface. The runner is a separate process that owns the actual
// checkpoint; this client only moves WAV bytes and mapped parameters across.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/resonator-bridge/internal/core"
	"github.com/book-expert/resonator-bridge/internal/wav"
)

// API endpoints exposed by the model runner.
const (
	apiTransform = "/v1/transform"
	apiDevices   = "/v1/devices"
	apiHealth    = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtRunnerErrorWithCode = "runner error (%s): %s (code: %s)"
	errFmtRunnerNonOKStatus   = "runner returned non-OK status: %s, body: %s"
)

var (
	// ErrEmptyAudioResponse indicates the runner answered 200 with no audio.
	ErrEmptyAudioResponse = errors.New("runner returned empty audio data")
	// ErrUnexpectedContentType indicates the runner answered with a body that
	// is not WAV audio.
	ErrUnexpectedContentType = errors.New("unexpected runner content type")
)

// Client talks to the standalone model runner over HTTP. It implements both
// core.InferenceEngine and core.DeviceProber.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// transformRequest is the JSON payload for a transform call. The audio rides
// along as a base64-encoded float32 WAV container.
type transformRequest struct {
	Audio      string                `json:"audio"`
	SampleRate int                   `json:"sample_rate"`
	Params     core.GenerationParams `json:"params"`
}

// runnerErrorResponse is the structured error body the runner returns on
// failed requests.
type runnerErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type devicesResponse struct {
	Devices []string `json:"devices"`
}

// NewClient creates an HTTP client for the model runner. The baseURL should
// include protocol and port (e.g. "http://127.0.0.1:8190"); the timeout
// applies to every request, inference included.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Infer sends the buffer and mapped parameters to the runner and decodes the
// generated audio it returns. The response is coerced to mono by the codec.
func (c *Client) Infer(
	ctx context.Context,
	audio *core.AudioBuffer,
	params core.GenerationParams,
) (*core.AudioBuffer, error) {
	payload := transformRequest{
		Audio:      base64.StdEncoding.EncodeToString(wav.Encode(audio)),
		SampleRate: audio.SampleRate,
		Params:     params,
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transform request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiTransform,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to send transform request to runner at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudioResponse
	}

	decoded, decodeErr := wav.Decode(audioData)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode runner audio: %w", decodeErr)
	}

	return decoded, nil
}

// HealthCheck verifies that the runner is up and answering.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiHealth,
		http.NoBody,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for runner at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// AvailableDevices asks the runner which compute devices it can execute on.
func (c *Client) AvailableDevices(ctx context.Context) ([]core.Device, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.baseURL+apiDevices,
		http.NoBody,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create devices request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(
			"devices request failed for runner at %s: %w",
			c.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var body devicesResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode devices response: %w", decodeErr)
	}

	devices := make([]core.Device, 0, len(body.Devices))
	for _, name := range body.Devices {
		devices = append(devices, core.Device(name))
	}

	return devices, nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// runner, falling back to the raw body so diagnostics are never lost.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errorResp runnerErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtRunnerErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtRunnerNonOKStatus,
		resp.Status,
		string(body),
	)
}
