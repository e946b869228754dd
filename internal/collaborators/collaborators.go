// Package collaborators holds thin HTTP clients for the two external
// services the core leans on but does not own: a phrasing service that
// turns a candidate into natural language, and a memory service that
// stores a summary of what was said. Both are best-effort: callers treat
// failures as non-fatal and fall back to local defaults.
package collaborators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/habitloop/engine/internal/core"
	"github.com/habitloop/engine/internal/logging"
)

// PhraseConfig configures the phrasing service client.
type PhraseConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// DefaultPhraseConfig reads the phrasing endpoint from the environment.
func DefaultPhraseConfig() PhraseConfig {
	return PhraseConfig{
		Endpoint: os.Getenv("HABITLOOP_PHRASE_ENDPOINT"),
		APIKey:   os.Getenv("HABITLOOP_PHRASE_API_KEY"),
		Timeout:  5 * time.Second,
	}
}

// PhraseClient calls an external phrasing service and satisfies
// evaluator.Phraser.
type PhraseClient struct {
	cfg        PhraseConfig
	httpClient *http.Client
}

// NewPhraseClient builds a PhraseClient. A blank Endpoint makes every call
// fail immediately, which callers should treat as "use the fallback phrase".
func NewPhraseClient(cfg PhraseConfig) *PhraseClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &PhraseClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type phraseRequest struct {
	PersonID        string  `json:"personId"`
	SuggestedAction string  `json:"suggestedAction"`
	Confidence      float64 `json:"confidence"`
	Occurrence      string  `json:"occurrence,omitempty"`
}

type phraseResponse struct {
	Phrase string `json:"phrase"`
}

// Phrase asks the phrasing service for a natural-language nudge for candidate.
func (c *PhraseClient) Phrase(candidate *core.ReminderCandidate) (string, error) {
	if c.cfg.Endpoint == "" {
		return "", fmt.Errorf("phrasing endpoint not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(phraseRequest{
		PersonID:        string(candidate.PersonID),
		SuggestedAction: candidate.SuggestedAction,
		Confidence:      candidate.Confidence,
		Occurrence:      candidate.Occurrence,
	})
	if err != nil {
		return "", fmt.Errorf("marshal phrase request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build phrase request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("phrase request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read phrase response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("phrasing service returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out phraseResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode phrase response: %w", err)
	}
	if out.Phrase == "" {
		return "", fmt.Errorf("phrasing service returned an empty phrase")
	}
	return out.Phrase, nil
}

// MemoryConfig configures the memory-summary service client.
type MemoryConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// DefaultMemoryConfig reads the memory-summary endpoint from the environment.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Endpoint: os.Getenv("HABITLOOP_MEMORY_ENDPOINT"),
		APIKey:   os.Getenv("HABITLOOP_MEMORY_API_KEY"),
		Timeout:  5 * time.Second,
	}
}

// MemoryClient posts execution summaries to an external memory store and
// satisfies evaluator.MemorySink.
type MemoryClient struct {
	cfg        MemoryConfig
	httpClient *http.Client
}

// NewMemoryClient builds a MemoryClient. A blank Endpoint makes every call a
// no-op, logged at debug level.
func NewMemoryClient(cfg MemoryConfig) *MemoryClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &MemoryClient{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

type memorySummaryRequest struct {
	PersonID        string  `json:"personId"`
	SuggestedAction string  `json:"suggestedAction"`
	ShouldSpeak     bool    `json:"shouldSpeak"`
	Reason          string  `json:"reason"`
	ConfidenceLevel float64 `json:"confidenceLevel"`
	Phrase          string  `json:"phrase,omitempty"`
}

// Summarize records the outcome of a reminder decision in the memory store.
func (c *MemoryClient) Summarize(candidate *core.ReminderCandidate, decision *core.ReminderDecision) error {
	if c.cfg.Endpoint == "" {
		logging.Debug("memory sink not configured, skipping summary for %s", candidate.SuggestedAction)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(memorySummaryRequest{
		PersonID:        string(candidate.PersonID),
		SuggestedAction: candidate.SuggestedAction,
		ShouldSpeak:     decision.ShouldSpeak,
		Reason:          decision.Reason,
		ConfidenceLevel: decision.ConfidenceLevel,
		Phrase:          decision.NaturalLanguagePhrase,
	})
	if err != nil {
		return fmt.Errorf("marshal memory summary: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build memory summary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("memory summary request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("memory service returned %d", resp.StatusCode)
	}
	return nil
}
