package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// RemoteConfig configures a Remote engine.
type RemoteConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// Remote calls a model server over HTTP. Requests go through a circuit
// breaker so a failing server is not hammered by every scan.
type Remote struct {
	endpoint string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker
	log      zerolog.Logger
}

type remoteRequest struct {
	Inputs map[string]remoteTensor `json:"inputs"`
}

type remoteTensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type remoteResponse struct {
	Output []float64 `json:"output"`
	Error  string    `json:"error,omitempty"`
}

// StatusError is a non-2xx answer from the model server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model server returned %d: %s", e.Code, e.Body)
}

// NewRemote creates a remote engine.
func NewRemote(cfg RemoteConfig, log zerolog.Logger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	log = log.With().Str("component", "remote_classifier").Logger()

	settings := gobreaker.Settings{
		Name:        "model-server",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
		// Caller cancellation and bad requests say nothing about server health.
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return false
		},
	}

	return &Remote{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		cb:       gobreaker.NewCircuitBreaker(settings),
		log:      log,
	}
}

// Classify implements Engine.
func (r *Remote) Classify(ctx context.Context, in Input) (Prediction, error) {
	name := in.Name
	if name == "" {
		name = DefaultInputName
	}
	body, err := json.Marshal(remoteRequest{Inputs: map[string]remoteTensor{
		name: {Shape: []int{1, len(in.Vector)}, Data: in.Vector},
	}})
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to encode request: %w", err)
	}

	out, err := r.cb.Execute(func() (interface{}, error) {
		return r.post(ctx, body)
	})
	if err != nil {
		return Prediction{}, err
	}
	raw := out.([]float64)
	if len(raw) == 0 {
		return Prediction{}, errors.New("model server returned an empty output")
	}
	return Prediction{Label: LabelFor(raw[0]), Raw: raw}, nil
}

func (r *Remote) post(ctx context.Context, body []byte) ([]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var out remoteResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("model server error: %s", out.Error)
	}
	r.log.Debug().Int("status", resp.StatusCode).Int("outputs", len(out.Output)).Msg("model server answered")
	return out.Output, nil
}
