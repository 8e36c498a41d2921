package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jakkii/scrapple/internal/httpc"
	"github.com/jakkii/scrapple/internal/log"
)

const (
	elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

	// the player expects raw 16kHz mono PCM16
	elevenOutputFormat = "pcm_16000"
	elevenSampleRate   = 16000
)

// APIError is an error response from the synthesis API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech: elevenlabs API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports an invalid or expired key (HTTP 401).
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == 401 }

// IsRetryable reports whether the request is worth retrying.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ElevenLabsConfig configures the synthesis provider.
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	ModelID string

	// BaseURL overrides the API endpoint, used in tests.
	BaseURL string
}

// ElevenLabs synthesizes speech over the ElevenLabs HTTP API and plays
// it through the configured Player.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	client *http.Client
	player Player
}

// NewElevenLabs builds the provider. The API key is required; callers
// degrade to a silent speaker when it is absent.
func NewElevenLabs(cfg ElevenLabsConfig, player Player) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	return &ElevenLabs{
		cfg:    cfg,
		client: httpc.Client,
		player: player,
	}, nil
}

// Speak synthesizes text and plays it, blocking until playback ends.
func (e *ElevenLabs) Speak(ctx context.Context, text string) error {
	pcm, err := e.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return e.player.Play(ctx, pcm, elevenSampleRate)
}

// Synthesize returns raw PCM16 audio for the given text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		e.cfg.BaseURL, e.cfg.VoiceID, elevenOutputFormat)

	payload := map[string]string{
		"text":     text,
		"model_id": e.cfg.ModelID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("speech: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: create request: %w", err)
	}
	req.Header.Set("xi-api-key", e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	log.Debug("synthesized speech",
		"chars", len(text), "bytes", len(audio), "model", e.cfg.ModelID)
	return audio, nil
}

// parseAPIError extracts the API error detail from a non-200 response.
func parseAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		apiErr.Message = "failed to read error response"
		return apiErr
	}

	var errResp struct {
		Detail struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"detail"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Detail.Message != "" {
		apiErr.Message = errResp.Detail.Message
	} else {
		apiErr.Message = string(body)
	}
	return apiErr
}
