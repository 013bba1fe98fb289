package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// utteranceGap is the inactivity window after the last transcript update
// before the accumulated text is committed as one utterance. Conservative to
// avoid cutting a candidate mid-sentence.
const utteranceGap = 700 * time.Millisecond

const streamEndpoint = "wss://streaming.assemblyai.com/v3/ws"

// ErrNotConnected is returned when audio arrives before Start or after Stop.
var ErrNotConnected = errors.New("transcript: recognizer not connected")

// AssemblyAI streams candidate audio to the AssemblyAI realtime endpoint and
// delivers committed utterances through the callback registered at
// construction. One instance serves one interview session.
type AssemblyAI struct {
	apiKey   string
	onResult func(text string)

	mu     sync.RWMutex
	conn   *websocket.Conn
	active bool
	stop   chan struct{}
	audio  chan []byte

	// utterance accumulation, guarded separately from the connection
	accMu     sync.Mutex
	latest    string
	committed string
	gapTimer  *time.Timer
}

// NewAssemblyAI builds a recognizer for one session. onResult receives each
// committed utterance; it must not block.
func NewAssemblyAI(apiKey string, onResult func(text string)) *AssemblyAI {
	if onResult == nil {
		onResult = func(string) {}
	}
	return &AssemblyAI{apiKey: apiKey, onResult: onResult}
}

// beginMessage, turnMessage and friends mirror the AssemblyAI v3 wire shapes.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Start dials the streaming endpoint and arms the recognizer. A recognizer
// whose connection later fails resets to inactive on its own.
func (a *AssemblyAI) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}
	if a.apiKey == "" {
		return fmt.Errorf("transcript: AssemblyAI API key is empty")
	}

	params := url.Values{}
	params.Set("sample_rate", "16000")
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	headers := map[string][]string{"Authorization": {a.apiKey}}

	conn, resp, err := dialer.DialContext(ctx, streamEndpoint+"?"+params.Encode(), headers)
	if err != nil {
		if resp != nil {
			log.Printf("transcript: AssemblyAI handshake rejected with status %d", resp.StatusCode)
		}
		return fmt.Errorf("transcript: connect to AssemblyAI: %w", err)
	}

	a.conn = conn
	a.active = true
	a.stop = make(chan struct{})
	a.audio = make(chan []byte, 256)
	a.latest = ""
	a.committed = ""

	go a.readLoop(conn, a.stop)
	go a.writeLoop(conn, a.stop, a.audio)
	return nil
}

// SendAudio queues one chunk of 16 kHz little-endian PCM for the endpoint.
// Full buffers drop the chunk rather than stall the live channel.
func (a *AssemblyAI) SendAudio(pcm []byte) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.active {
		return ErrNotConnected
	}
	select {
	case a.audio <- pcm:
	default:
		log.Println("transcript: audio buffer full, dropping chunk")
	}
	return nil
}

// Active reports whether a recognition pass is armed.
func (a *AssemblyAI) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Stop terminates the streaming session. Any uncommitted text is flushed to
// the callback first so trailing words are not lost.
func (a *AssemblyAI) Stop() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	conn := a.conn
	a.conn = nil
	close(a.stop)
	a.mu.Unlock()

	a.accMu.Lock()
	if a.gapTimer != nil {
		a.gapTimer.Stop()
		a.gapTimer = nil
	}
	a.accMu.Unlock()

	if conn != nil {
		_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
		_ = conn.Close()
	}
	a.flushPending()
}

func (a *AssemblyAI) readLoop(conn *websocket.Conn, stop chan struct{}) {
	defer a.deactivate(conn)
	for {
		select {
		case <-stop:
			return
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
			default:
				log.Printf("transcript: read failed: %v", err)
			}
			return
		}
		a.handleMessage(message, stop)
	}
}

func (a *AssemblyAI) writeLoop(conn *websocket.Conn, stop chan struct{}, audio chan []byte) {
	for {
		select {
		case <-stop:
			return
		case chunk := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				select {
				case <-stop:
				default:
					log.Printf("transcript: audio write failed: %v", err)
				}
				return
			}
		}
	}
}

func (a *AssemblyAI) handleMessage(message []byte, stop chan struct{}) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Printf("transcript: unparseable message: %v", err)
		return
	}
	switch envelope.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("transcript: AssemblyAI session %s open until %s",
				msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.Transcript == "" {
			return
		}
		a.accMu.Lock()
		a.latest = msg.Transcript
		if a.gapTimer == nil {
			a.gapTimer = time.AfterFunc(utteranceGap, func() { a.commitUtterance(stop) })
		} else {
			a.gapTimer.Stop()
			a.gapTimer.Reset(utteranceGap)
		}
		a.accMu.Unlock()
	case "Termination":
		a.flushPending()
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err == nil {
			log.Printf("transcript: AssemblyAI error: %s", msg.Error)
		}
	}
}

// commitUtterance fires once the gap timer lapses: the delta since the last
// committed transcript becomes one utterance.
func (a *AssemblyAI) commitUtterance(stop chan struct{}) {
	select {
	case <-stop:
		return
	default:
	}
	if delta := a.takeDelta(); delta != "" {
		a.onResult(delta)
	}
}

func (a *AssemblyAI) flushPending() {
	if delta := a.takeDelta(); delta != "" {
		a.onResult(delta)
	}
}

// takeDelta commits the current transcript and returns what was appended
// since the previous commit. The endpoint occasionally restates earlier text
// with new leading words, so the committed text is located anywhere in the
// latest transcript, not just as a prefix.
func (a *AssemblyAI) takeDelta() string {
	a.accMu.Lock()
	defer a.accMu.Unlock()
	latest, base := a.latest, a.committed
	a.committed = latest
	if base == "" {
		return strings.TrimSpace(latest)
	}
	if idx := strings.LastIndex(latest, base); idx >= 0 {
		return strings.TrimSpace(latest[idx+len(base):])
	}
	return strings.TrimSpace(latest)
}

// deactivate resets the active flag, but only when the stored connection is
// still the one this loop was started for. A Stop/Start cycle may already
// have armed a new connection by the time an old loop's deferred call lands.
func (a *AssemblyAI) deactivate(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == conn {
		a.active = false
		a.conn = nil
	}
}
