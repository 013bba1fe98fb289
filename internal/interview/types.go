package interview

import (
	"context"
	"time"

	"github.com/BeskiJoseph/interview/internal/tts"
)

// Role labels for conversation turns.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Turn is one exchange unit in the dialogue.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QA is one question/answer pair of the interview transcript.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Profile is the free-text interview configuration, set once at setup.
type Profile struct {
	Role           string `json:"role"`
	SkillLevel     string `json:"skillLevel"`
	JobDescription string `json:"jobDescription"`
}

// Feedback is the structured evaluation attached at finalization.
type Feedback struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	OverallScore int      `json:"overallScore"`
}

// Source tells whether text came from the remote model or local templates.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceFallback  Source = "fallback"
)

// GeneratedTurn is the gateway's answer to a turn request. Fallback content is
// flagged so the client can label it as non-generated.
type GeneratedTurn struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// Record is the persisted snapshot of one session.
type Record struct {
	SessionID      string    `json:"sessionId"`
	Role           string    `json:"role"`
	SkillLevel     string    `json:"skillLevel"`
	JobDescription string    `json:"jobDescription"`
	Transcript     []QA      `json:"transcript"`
	RecordingURL   string    `json:"recordingUrl,omitempty"`
	Feedback       *Feedback `json:"feedback,omitempty"`
	IsCompleted    bool      `json:"isCompleted"`
	Timestamp      time.Time `json:"timestamp"`
}

// Generator produces interview turns and final feedback. Implementations must
// degrade to fallback content internally; neither method may fail the session.
type Generator interface {
	GenerateTurn(ctx context.Context, p Profile, utterance string, history []Turn) GeneratedTurn
	GenerateFeedback(ctx context.Context, p Profile, transcript []QA) Feedback
}

// Recognizer is a one-shot speech-to-text capability. The result callback is
// registered at construction; Active reports whether a recognition pass is
// armed and resets on error or natural end.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

// Speaker plays an utterance and invokes done when playback settles. The
// session never awaits playback directly.
type Speaker interface {
	Speak(ctx context.Context, u tts.Utterance, done func())
	Cancel()
}

// SessionStore is the session-facing subset of the persistence gateway.
type SessionStore interface {
	Save(ctx context.Context, rec Record) error
	StoreRecording(ctx context.Context, sessionID string, blob []byte) string
}

// Notifier surfaces non-fatal advisories to the user.
type Notifier interface {
	Advise(text string)
}

// NopNotifier discards advisories.
type NopNotifier struct{}

func (NopNotifier) Advise(string) {}
