package tts

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const defaultVoiceModel = "aura-2-thalia-en"

// Deepgram synthesizes interviewer lines over the Deepgram speak websocket
// and streams the audio into a Sink. Speak is fire-and-forget: done fires
// once the audio stream settles, whether playback succeeded or not.
//
// Voice characteristics are model-selected on this backend: Utterance.Voice
// overrides the aura model, while Rate and Pitch have no wire equivalent in
// the speak options and are ignored.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	sink       Sink

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDeepgram builds a speaker writing synthesized audio to sink.
func NewDeepgram(apiKey, model string, sink Sink) *Deepgram {
	if model == "" {
		model = defaultVoiceModel
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		sink:       sink,
	}
}

// Speak synthesizes one utterance. A second Speak cancels the previous one.
// done is invoked exactly once, on settle or failure.
func (d *Deepgram) Speak(ctx context.Context, u Utterance, done func()) {
	if done == nil {
		done = func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = cancel
	d.mu.Unlock()

	go func() {
		defer cancel()
		if err := d.stream(ctx, u); err != nil {
			log.Printf("tts: synthesis failed: %v", err)
		}
		done()
	}()
}

// Cancel aborts the in-flight synthesis, if any.
func (d *Deepgram) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

func (d *Deepgram) stream(ctx context.Context, u Utterance) error {
	if d.apiKey == "" {
		return fmt.Errorf("tts: Deepgram API key missing")
	}
	if u.Text == "" {
		return nil
	}
	model := d.model
	if u.Voice != "" {
		model = u.Voice
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		if d.sink != nil {
			if err := d.sink.WriteAudio(data); err != nil {
				log.Printf("tts: sink write failed: %v", err)
			}
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("tts: create ws client: %w", err)
	}

	var stopOnce sync.Once
	stopClient := func() { stopOnce.Do(dg.Stop) }
	defer stopClient()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("tts: connect failed")
	}

	if err := dg.SpeakWithText(u.Text); err != nil {
		return fmt.Errorf("tts: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("tts: flush error: %v", err)
	}

	// Settle once the endpoint goes idle after producing audio, or on a hard
	// deadline when it never does.
	idleWindow := 400 * time.Millisecond
	deadline := time.Now().Add(12 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if time.Since(last) > idleWindow {
					return nil
				}
			}
			if time.Now().After(deadline) {
				return nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
