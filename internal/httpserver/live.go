package httpserver

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/BeskiJoseph/interview/internal/interview"
	"github.com/BeskiJoseph/interview/internal/transcript"
	"github.com/BeskiJoseph/interview/internal/tts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// outboundFrame is the JSON shape of every text frame the server sends.
type outboundFrame struct {
	Type string `json:"type"` // "turn" or "advisory"
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
}

// wsChannel serializes writes; gorilla permits one concurrent writer only.
type wsChannel struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (ch *wsChannel) writeJSON(v interface{}) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn.WriteJSON(v)
}

func (ch *wsChannel) writeBinary(data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WriteAudio makes the channel a tts.Sink: synthesized audio goes out as
// binary frames.
func (ch *wsChannel) WriteAudio(data []byte) error {
	return ch.writeBinary(data)
}

// relayNotifier buffers nothing: advisories raised before the live channel
// attaches go to the log, afterwards to the client.
type relayNotifier struct {
	mu   sync.Mutex
	send func(text string)
}

func (n *relayNotifier) Advise(text string) {
	n.mu.Lock()
	send := n.send
	n.mu.Unlock()
	if send == nil {
		log.Printf("advisory (no live channel): %s", text)
		return
	}
	send(text)
}

func (n *relayNotifier) attach(fn func(text string)) {
	n.mu.Lock()
	n.send = fn
	n.mu.Unlock()
}

func (n *relayNotifier) detach() { n.attach(nil) }

// liveSpeaker announces each assistant turn as a text frame before handing
// the utterance to the synthesis backend.
type liveSpeaker struct {
	ch    *wsChannel
	inner interview.Speaker
}

func (sp *liveSpeaker) Speak(ctx context.Context, u tts.Utterance, done func()) {
	if err := sp.ch.writeJSON(outboundFrame{Type: "turn", Role: interview.RoleAssistant, Text: u.Text}); err != nil {
		log.Printf("live: turn frame write failed: %v", err)
	}
	sp.inner.Speak(ctx, u, done)
}

func (sp *liveSpeaker) Cancel() { sp.inner.Cancel() }

// liveChannel upgrades to the interview websocket: inbound text frames are
// final utterances, inbound binary frames are media fragments (also relayed
// to the recognizer); outbound text frames are turns and advisories, outbound
// binary frames are synthesized audio.
func (s *Server) liveChannel(c echo.Context) error {
	id := c.Param("id")
	entry, ok := s.takeLive(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active session"})
	}
	session := entry.session

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch := &wsChannel{conn: conn}
	entry.notify.attach(func(text string) {
		if err := ch.writeJSON(outboundFrame{Type: "advisory", Text: text}); err != nil {
			log.Printf("live: advisory frame write failed: %v", err)
		}
	})
	defer entry.notify.detach()

	var inner interview.Speaker = tts.NopSpeaker{}
	if s.cfg.DeepgramKey != "" {
		inner = tts.NewDeepgram(s.cfg.DeepgramKey, s.cfg.DeepgramTTSModel, ch)
	}
	session.SetSpeaker(&liveSpeaker{ch: ch, inner: inner})

	var recognizer *transcript.AssemblyAI
	if s.cfg.AssemblyAIKey != "" {
		recognizer = transcript.NewAssemblyAI(s.cfg.AssemblyAIKey, session.HandleUtterance)
		session.SetRecognizer(recognizer)
	}

	if session.State() == interview.StateSetup {
		if err := session.Begin(c.Request().Context()); err != nil {
			log.Printf("session %s: begin failed: %v", id, err)
			return nil
		}
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.TextMessage:
			session.HandleUtterance(string(data))
		case websocket.BinaryMessage:
			session.AppendFragment(data)
			if recognizer != nil && recognizer.Active() {
				if err := recognizer.SendAudio(data); err != nil {
					log.Printf("session %s: audio relay failed: %v", id, err)
				}
			}
		}
	}

	// A disconnect before finalization abandons the attempt.
	if session.State() == interview.StateActive {
		log.Printf("session %s: live channel closed mid-interview", id)
		session.Close()
		s.dropLive(id)
	}
	return nil
}
