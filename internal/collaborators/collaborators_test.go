package collaborators

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/habitloop/engine/internal/core"
)

func TestPhraseClientReturnsPhrase(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req phraseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.SuggestedAction != "coffee" {
			t.Errorf("suggestedAction = %q, want coffee", req.SuggestedAction)
		}
		json.NewEncoder(w).Encode(phraseResponse{Phrase: "Ready for coffee?"})
	}))
	defer server.Close()

	client := NewPhraseClient(PhraseConfig{Endpoint: server.URL, Timeout: time.Second})
	candidate := core.NewReminderCandidate(core.NewReminderID(), "a", "coffee", time.Now(), time.Now())

	phrase, err := client.Phrase(candidate)
	if err != nil {
		t.Fatalf("Phrase: %v", err)
	}
	if phrase != "Ready for coffee?" {
		t.Errorf("phrase = %q, want %q", phrase, "Ready for coffee?")
	}
}

func TestPhraseClientFailsWithoutEndpoint(t *testing.T) {
	client := NewPhraseClient(PhraseConfig{})
	candidate := core.NewReminderCandidate(core.NewReminderID(), "a", "coffee", time.Now(), time.Now())

	if _, err := client.Phrase(candidate); err == nil {
		t.Fatal("expected error when endpoint is not configured")
	}
}

func TestPhraseClientPropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewPhraseClient(PhraseConfig{Endpoint: server.URL, Timeout: time.Second})
	candidate := core.NewReminderCandidate(core.NewReminderID(), "a", "coffee", time.Now(), time.Now())

	if _, err := client.Phrase(candidate); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestMemoryClientSkipsWithoutEndpoint(t *testing.T) {
	client := NewMemoryClient(MemoryConfig{})
	candidate := core.NewReminderCandidate(core.NewReminderID(), "a", "coffee", time.Now(), time.Now())
	decision := &core.ReminderDecision{ShouldSpeak: true, ConfidenceLevel: 0.8}

	if err := client.Summarize(candidate, decision); err != nil {
		t.Fatalf("Summarize with no endpoint should be a no-op, got: %v", err)
	}
}

func TestMemoryClientPostsSummary(t *testing.T) {
	var received memorySummaryRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewMemoryClient(MemoryConfig{Endpoint: server.URL, Timeout: time.Second})
	candidate := core.NewReminderCandidate(core.NewReminderID(), "a", "coffee", time.Now(), time.Now())
	decision := &core.ReminderDecision{ShouldSpeak: true, Reason: "eligible", ConfidenceLevel: 0.8, NaturalLanguagePhrase: "Ready for coffee?"}

	if err := client.Summarize(candidate, decision); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if received.SuggestedAction != "coffee" || received.Phrase != "Ready for coffee?" {
		t.Errorf("unexpected posted summary: %+v", received)
	}
}
