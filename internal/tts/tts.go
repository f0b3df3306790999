// Package tts synthesizes the spoken form of a finished assistant reply.
// It supports the gateway's tts.convert RPC and Google Cloud Text-to-Speech,
// with fallback between providers.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Provider identifies a TTS provider.
type Provider string

const (
	// ProviderGateway asks the connected gateway to synthesize via tts.convert.
	ProviderGateway Provider = "gateway"

	// ProviderGoogle calls Google Cloud Text-to-Speech with an API key.
	ProviderGoogle Provider = "google"
)

const (
	// DefaultGoogleURL is the Cloud Text-to-Speech synthesize endpoint.
	DefaultGoogleURL = "https://texttospeech.googleapis.com/v1/text:synthesize"

	// DefaultGoogleVoice is used when the request names no voice.
	DefaultGoogleVoice = "ko-KR-Neural2-A"
)

var (
	// ErrEmptyText is returned when nothing speakable remains after cleanup.
	ErrEmptyText = errors.New("tts: text is empty")

	// ErrNoProvider is returned when no provider in the chain is usable for
	// the request.
	ErrNoProvider = errors.New("tts: no provider available")
)

// Caller is the gateway surface used by ProviderGateway. *tools.Bridge
// implements it.
type Caller interface {
	Connected() bool
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Config holds TTS configuration.
type Config struct {
	// Providers are tried in order until one produces audio.
	// Default: gateway, google
	Providers []Provider

	// MaxTextLength truncates longer text, counted in runes.
	// Default: 4096
	MaxTextLength int

	// Timeout bounds the whole synthesis including fallbacks.
	// Default: 30s
	Timeout time.Duration

	// GoogleURL overrides the Cloud Text-to-Speech endpoint.
	GoogleURL string

	HTTPClient *http.Client
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	return Config{
		Providers:     []Provider{ProviderGateway, ProviderGoogle},
		MaxTextLength: 4096,
		Timeout:       30 * time.Second,
		GoogleURL:     DefaultGoogleURL,
	}
}

// ApplyDefaults fills empty fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if len(c.Providers) == 0 {
		c.Providers = defaults.Providers
	}
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = defaults.MaxTextLength
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.GoogleURL == "" {
		c.GoogleURL = defaults.GoogleURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// ValidateConfig rejects unknown providers.
func ValidateConfig(cfg Config) error {
	for _, p := range cfg.Providers {
		switch p {
		case ProviderGateway, ProviderGoogle:
		default:
			return fmt.Errorf("tts: unknown provider: %s", p)
		}
	}
	return nil
}

// Request is one synthesis job.
type Request struct {
	Text  string
	Voice string

	// APIKey enables ProviderGoogle.
	APIKey string

	// Gateway enables ProviderGateway when connected.
	Gateway Caller
}

// Result is base64 encoded audio.
type Result struct {
	Audio     string
	Format    string
	Provider  Provider
	LatencyMs int64
}

// Synthesizer converts text to speech using the configured provider chain.
type Synthesizer struct {
	cfg Config
}

// New creates a synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	cfg.ApplyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Synthesizer{cfg: cfg}, nil
}

var emotionTag = regexp.MustCompile(`(?i)^\[(?:HAPPY|SAD|ANGRY|SURPRISED|NEUTRAL|THINK)]\s*`)

// StripEmotionTag removes a leading emotion tag such as "[HAPPY] ".
func StripEmotionTag(text string) string {
	return emotionTag.ReplaceAllString(text, "")
}

// Synthesize speaks req.Text with the first usable provider.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	text := strings.TrimSpace(StripEmotionTag(strings.TrimSpace(req.Text)))
	if text == "" {
		return nil, ErrEmptyText
	}
	if runes := []rune(text); len(runes) > s.cfg.MaxTextLength {
		text = string(runes[:s.cfg.MaxTextLength])
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var errs []error
	for _, provider := range s.cfg.Providers {
		start := time.Now()
		var (
			result *Result
			err    error
		)
		switch provider {
		case ProviderGateway:
			if req.Gateway == nil || !req.Gateway.Connected() {
				continue
			}
			result, err = gatewayTTS(ctx, req.Gateway, text, req.Voice)
		case ProviderGoogle:
			if req.APIKey == "" {
				continue
			}
			result, err = s.googleTTS(ctx, text, req.Voice, req.APIKey)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result.Provider = provider
		result.LatencyMs = time.Since(start).Milliseconds()
		return result, nil
	}
	if len(errs) == 0 {
		return nil, ErrNoProvider
	}
	return nil, errors.Join(errs...)
}

type convertPayload struct {
	Audio      string `json:"audio"`
	Format     string `json:"format"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

func gatewayTTS(ctx context.Context, gw Caller, text, voice string) (*Result, error) {
	params := map[string]any{"text": text}
	if voice != "" {
		params["voice"] = voice
	}
	raw, err := gw.Call(ctx, "tts.convert", params)
	if err != nil {
		return nil, fmt.Errorf("tts: gateway: %w", err)
	}
	var payload convertPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("tts: gateway: decode: %w", err)
	}
	if payload.Audio == "" {
		return nil, errors.New("tts: gateway returned no audio")
	}
	format := payload.Format
	if format == "" {
		format = "mp3"
	}
	return &Result{Audio: payload.Audio, Format: format}, nil
}

type googleRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate"`
		Pitch         float64 `json:"pitch"`
	} `json:"audioConfig"`
}

// languageCode derives "ko-KR" from "ko-KR-Neural2-A".
func languageCode(voice string) string {
	if len(voice) < 5 {
		return voice
	}
	return voice[:5]
}

func (s *Synthesizer) googleTTS(ctx context.Context, text, voice, apiKey string) (*Result, error) {
	if voice == "" {
		voice = DefaultGoogleVoice
	}
	var body googleRequest
	body.Input.Text = text
	body.Voice.Name = voice
	body.Voice.LanguageCode = languageCode(voice)
	body.AudioConfig.AudioEncoding = "MP3"
	body.AudioConfig.SpeakingRate = 1.0
	body.AudioConfig.Pitch = 2.0

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("tts: failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.GoogleURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("tts: failed to create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: Google request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("tts: Google returned %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("tts: Google: decode: %w", err)
	}
	if out.AudioContent == "" {
		return nil, errors.New("tts: Google returned no audio")
	}
	return &Result{Audio: out.AudioContent, Format: "mp3"}, nil
}
