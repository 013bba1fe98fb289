package tts

import "context"

// Utterance carries the text to synthesize plus voice configuration.
type Utterance struct {
	Text  string
	Voice string
	Rate  float64
	Pitch float64
}

// Sink receives synthesized audio for delivery to the client.
type Sink interface {
	WriteAudio(data []byte) error
}

// NopSpeaker settles immediately without synthesizing anything. Used when no
// TTS credential is configured or no live channel is attached yet.
type NopSpeaker struct{}

func (NopSpeaker) Speak(_ context.Context, _ Utterance, done func()) {
	if done != nil {
		done()
	}
}

func (NopSpeaker) Cancel() {}
