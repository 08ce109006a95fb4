package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"eventpulse/internal/domain"
	"eventpulse/pkg/logx"
)

const promptTemplate = `Extract event preferences from the user message below.
Reply with JSON only, using these optional fields:
{"eventTypes": [string], "location": string, "maxDistance": number,
 "budget": {"min": number, "max": number}, "keywords": [string]}
Omit any field the message does not mention.

Message: %s`

const maxResponseBytes = 1 << 20

// RemoteConfig points at a text-generation endpoint that accepts
// {"model", "inputs"} and returns either [{"generated_text": ...}] or a
// bare string.
type RemoteConfig struct {
	Endpoint string
	Model    string
	Token    string
	Timeout  time.Duration
}

// Remote asks a hosted model and falls back to another Extractor (Rules by
// default) on any failure.
type Remote struct {
	cfg      RemoteConfig
	client   *http.Client
	fallback Extractor
	log      logx.Logger
}

func NewRemote(cfg RemoteConfig, client *http.Client, fallback Extractor, log logx.Logger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if fallback == nil {
		fallback = Rules{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Remote{cfg: cfg, client: client, fallback: fallback, log: log.Component("extract")}
}

func (r *Remote) Extract(ctx context.Context, message string) domain.PartialPreferences {
	p, err := r.call(ctx, message)
	if err != nil {
		r.log.Warn("remote extraction failed; using rules", logx.Err(err))
		return r.fallback.Extract(ctx, message)
	}
	return p
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Inputs string `json:"inputs"`
}

func (r *Remote) call(ctx context.Context, message string) (domain.PartialPreferences, error) {
	var p domain.PartialPreferences
	if strings.TrimSpace(r.cfg.Endpoint) == "" {
		return p, errors.New("extractor endpoint not configured")
	}
	body, err := json.Marshal(generateRequest{Model: r.cfg.Model, Inputs: fmt.Sprintf(promptTemplate, message)})
	if err != nil {
		return p, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return p, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return p, fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return p, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return p, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	text, err := generatedText(raw)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(stripFence(text)), &p); err != nil {
		return p, fmt.Errorf("decode preferences: %w", err)
	}
	return p, nil
}

// generatedText accepts [{"generated_text": "..."}], {"generated_text": "..."}
// or a JSON string.
func generatedText(raw []byte) (string, error) {
	var list []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", errors.New("empty generation list")
		}
		return list[0].GeneratedText, nil
	}
	var one struct {
		GeneratedText *string `json:"generated_text"`
	}
	if err := json.Unmarshal(raw, &one); err == nil && one.GeneratedText != nil {
		return *one.GeneratedText, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	return "", fmt.Errorf("unrecognized response: %s", truncate(string(raw), 200))
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
