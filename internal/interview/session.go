package interview

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/BeskiJoseph/interview/internal/media"
	"github.com/BeskiJoseph/interview/internal/tts"
)

const (
	defaultSilenceTimeout = 15 * time.Second
	defaultDebounceWindow = 300 * time.Millisecond
)

// Options tune session timing. Zero values select the defaults; tests inject
// short windows.
type Options struct {
	SilenceTimeout time.Duration
	DebounceWindow time.Duration
	Voice          string
}

// Deps are the process-level collaborators a session needs. Speaker and
// Recognizer attach later, when the live channel opens.
type Deps struct {
	Generator Generator
	Store     SessionStore
	Notifier  Notifier
	Capture   media.Capture
}

// Session orchestrates one interview attempt: setup, the turn-based dialogue,
// and finalization into feedback. At most one generation request is in flight
// at a time; utterances arriving meanwhile are dropped.
type Session struct {
	id        string
	profile   Profile
	createdAt time.Time
	opts      Options

	gen     Generator
	store   SessionStore
	notify  Notifier
	capture media.Capture

	mu           sync.Mutex
	state        State
	phase        Phase
	speaker      Speaker
	recognizer   Recognizer
	stream       media.Stream
	recorder     *media.Recorder
	conversation []Turn
	transcript   []QA
	recordingURL string
	feedback     *Feedback
	completed    bool

	lastUtterance string
	pendingText   string
	debounceTimer *time.Timer
	silenceTimer  *time.Timer
	generating    bool
	warnedFB      bool
	closed        bool
}

// NewSession constructs a session in the Setup state.
func NewSession(id string, p Profile, deps Deps, opts Options) *Session {
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = defaultSilenceTimeout
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}
	notify := deps.Notifier
	if notify == nil {
		notify = NopNotifier{}
	}
	capture := deps.Capture
	if capture == nil {
		capture = media.NopCapture{}
	}
	return &Session{
		id:        id,
		profile:   p,
		createdAt: time.Now().UTC(),
		opts:      opts,
		gen:       deps.Generator,
		store:     deps.Store,
		notify:    notify,
		capture:   capture,
		speaker:   tts.NopSpeaker{},
		recorder:  media.NewRecorder(),
		state:     StateSetup,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase returns the inner active-phase position.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetSpeaker swaps the playback collaborator, typically when the live channel
// attaches.
func (s *Session) SetSpeaker(sp Speaker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sp != nil {
		s.speaker = sp
	}
}

// SetRecognizer wires the speech-to-text collaborator.
func (s *Session) SetRecognizer(r Recognizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recognizer = r
}

// Begin moves Setup -> Active: persists the initial empty-transcript record
// best-effort, acquires the capture stream, arms the recognizer, and speaks
// the opening greeting from a local template (never the gateway).
func (s *Session) Begin(ctx context.Context) error {
	s.mu.Lock()
	next, err := Transition(s.state, EventBegin)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	recognizer := s.recognizer
	rec := s.snapshotLocked()
	s.mu.Unlock()

	// Best-effort initial persist; failure never blocks the interview.
	if err := s.store.Save(ctx, rec); err != nil {
		log.Printf("session %s: initial save failed: %v", s.id, err)
		s.notify.Advise("Session will be saved locally; remote storage is unavailable.")
	}

	stream, err := s.capture.Acquire(ctx, media.DefaultConstraints())
	if err != nil {
		log.Printf("session %s: media capture unavailable: %v", s.id, err)
		s.notify.Advise("Camera or microphone unavailable; the interview continues without a recording.")
	} else {
		s.mu.Lock()
		s.stream = stream
		s.mu.Unlock()
	}

	if recognizer != nil {
		if err := recognizer.Start(ctx); err != nil {
			log.Printf("session %s: recognizer start failed: %v", s.id, err)
			s.notify.Advise("Speech recognition unavailable; type your answers instead.")
		}
	}

	s.speakTurn(ctx, greeting(s.profile))
	return nil
}

// HandleUtterance accepts one recognized user utterance. Near-simultaneous
// callbacks are coalesced by a short debounce window and an utterance
// identical to the previous one is dropped.
func (s *Session) HandleUtterance(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateActive {
		return
	}
	if text == s.lastUtterance {
		return
	}
	s.pendingText = text
	if s.debounceTimer == nil {
		s.debounceTimer = time.AfterFunc(s.opts.DebounceWindow, s.flushPending)
	} else {
		s.debounceTimer.Stop()
		s.debounceTimer.Reset(s.opts.DebounceWindow)
	}
}

// AppendFragment records one media fragment from the live channel.
func (s *Session) AppendFragment(fragment []byte) {
	s.recorder.Append(fragment)
}

// Complete moves Active -> Feedback: finalizes the recording, persists it and
// the session record (each best-effort), generates feedback, and marks the
// session completed.
func (s *Session) Complete(ctx context.Context) (Record, error) {
	s.mu.Lock()
	next, err := Transition(s.state, EventComplete)
	if err != nil {
		s.mu.Unlock()
		return Record{}, err
	}
	s.state = next
	s.phase = ""
	s.stopTimersLocked()
	recognizer := s.recognizer
	speaker := s.speaker
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if recognizer != nil {
		recognizer.Stop()
	}
	speaker.Cancel()
	if stream != nil {
		stream.Release()
	}

	blob := s.recorder.Blob()
	if len(blob) > 0 {
		ref := s.store.StoreRecording(ctx, s.id, blob)
		s.mu.Lock()
		s.recordingURL = ref
		s.mu.Unlock()
	}

	if err := s.store.Save(ctx, s.Record()); err != nil {
		log.Printf("session %s: save before feedback failed: %v", s.id, err)
		s.notify.Advise("Could not save the session remotely; a local copy was kept.")
	}

	s.mu.Lock()
	transcript := append([]QA(nil), s.transcript...)
	profile := s.profile
	s.mu.Unlock()

	fb := s.gen.GenerateFeedback(ctx, profile, transcript)

	s.mu.Lock()
	s.feedback = &fb
	s.completed = true
	rec := s.snapshotLocked()
	s.mu.Unlock()

	if err := s.store.Save(ctx, rec); err != nil {
		log.Printf("session %s: final save failed: %v", s.id, err)
		s.notify.Advise("Feedback was not saved remotely; a local copy was kept.")
	}
	return rec, nil
}

// Close tears the session down without finalizing: timers cleared, recognizer
// and capture stopped, pending playback cancelled. In-flight generation
// requests settle on their own and their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimersLocked()
	recognizer := s.recognizer
	speaker := s.speaker
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if recognizer != nil {
		recognizer.Stop()
	}
	speaker.Cancel()
	if stream != nil {
		stream.Release()
	}
}

// Record returns a persistable snapshot of the session.
func (s *Session) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Conversation returns a copy of the dialogue history.
func (s *Session) Conversation() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.conversation...)
}

func (s *Session) snapshotLocked() Record {
	var fb *Feedback
	if s.feedback != nil {
		cp := *s.feedback
		fb = &cp
	}
	return Record{
		SessionID:      s.id,
		Role:           s.profile.Role,
		SkillLevel:     s.profile.SkillLevel,
		JobDescription: s.profile.JobDescription,
		Transcript:     append([]QA(nil), s.transcript...),
		RecordingURL:   s.recordingURL,
		Feedback:       fb,
		IsCompleted:    s.completed,
		Timestamp:      s.createdAt,
	}
}

func (s *Session) stopTimersLocked() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.pendingText = ""
}

func (s *Session) flushPending() {
	s.mu.Lock()
	text := s.pendingText
	s.pendingText = ""
	s.mu.Unlock()
	if text != "" {
		s.submit(text)
	}
}

// submit transitions AwaitingUserSpeech -> GeneratingResponse for one
// utterance (empty text means the silence timeout fired) and requests the
// next turn from the gateway.
func (s *Session) submit(text string) {
	s.mu.Lock()
	if s.closed || s.state != StateActive || s.phase != PhaseAwaitingSpeech || s.generating {
		s.mu.Unlock()
		return
	}
	if text != "" && text == s.lastUtterance {
		s.mu.Unlock()
		return
	}
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.phase = PhaseGenerating
	s.generating = true
	if text != "" {
		s.lastUtterance = text
		s.conversation = append(s.conversation, Turn{Role: RoleUser, Content: text})
		if n := len(s.transcript); n > 0 && s.transcript[n-1].Answer == "" {
			s.transcript[n-1].Answer = text
		}
	}
	profile := s.profile
	history := append([]Turn(nil), s.conversation...)
	s.mu.Unlock()

	go func() {
		turn := s.gen.GenerateTurn(context.Background(), profile, text, history)

		s.mu.Lock()
		if s.closed || s.state != StateActive {
			s.mu.Unlock()
			return // session moved on; discard
		}
		s.generating = false
		s.mu.Unlock()

		if turn.Source == SourceFallback {
			s.adviseFallbackOnce()
		}
		s.speakTurn(context.Background(), turn.Text)
	}()
}

// speakTurn appends an assistant turn, speaks it fire-and-forget, and returns
// to AwaitingUserSpeech once playback settles.
func (s *Session) speakTurn(ctx context.Context, text string) {
	s.mu.Lock()
	if s.closed || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.conversation = append(s.conversation, Turn{Role: RoleAssistant, Content: text})
	s.transcript = append(s.transcript, QA{Question: text})
	speaker := s.speaker
	voice := s.opts.Voice
	s.mu.Unlock()

	speaker.Speak(ctx, tts.Utterance{Text: text, Voice: voice, Rate: 1.0, Pitch: 1.0}, s.enterAwaiting)
}

// enterAwaiting arms the silence timer and opens the floor to the candidate.
func (s *Session) enterAwaiting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != StateActive {
		return
	}
	s.phase = PhaseAwaitingSpeech
	if s.silenceTimer != nil {
		s.silenceTimer.Stop()
	}
	s.silenceTimer = time.AfterFunc(s.opts.SilenceTimeout, func() { s.submit("") })
}

func (s *Session) adviseFallbackOnce() {
	s.mu.Lock()
	warned := s.warnedFB
	s.warnedFB = true
	s.mu.Unlock()
	if !warned {
		s.notify.Advise("The interviewer is temporarily offline; questions come from a prepared set.")
	}
}

func greeting(p Profile) string {
	role := p.Role
	if role == "" {
		role = "this role"
	}
	return fmt.Sprintf("Hello! Welcome to your mock interview for %s. I'll ask you a series of questions - take your time with each answer. To get us started, tell me a little about yourself.", role)
}

