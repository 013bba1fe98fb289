package llm

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// ErrQueueOverloaded is returned when the request queue is at capacity. The
// request is rejected immediately and never dispatched.
var ErrQueueOverloaded = errors.New("llm gateway: queue overloaded")

// errDailyQuota marks calls short-circuited by the local ledger, before any
// network traffic.
var errDailyQuota = errors.New("llm gateway: daily quota reached")

// errClosed settles requests still waiting when the gateway shuts down.
var errClosed = errors.New("llm gateway: closed")

// Clock abstracts time for the dispatcher so tests can run deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// GatewayConfig bounds admission, pacing, retries, and quota.
type GatewayConfig struct {
	QueueCapacity  int
	MaxPerMinute   int
	MinInterval    time.Duration
	DailyQuota     int
	MaxRetries     int
	RetryBaseDelay time.Duration
	QuotaRetryWait time.Duration
	HistoryLimit   int // question/answer pairs included per prompt
	RequestTimeout time.Duration
}

func (c *GatewayConfig) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 16
	}
	if c.MaxPerMinute <= 0 {
		c.MaxPerMinute = 8
	}
	if c.DailyQuota <= 0 {
		c.DailyQuota = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.QuotaRetryWait <= 0 {
		c.QuotaRetryWait = 30 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 6
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 20 * time.Second
	}
}

type request struct {
	ctx    context.Context
	prompt string
	result chan outcome
}

type outcome struct {
	text string
	err  error
}

// Gateway is the single outbound channel to the generation endpoint: a
// bounded FIFO queue drained by one dispatcher goroutine that enforces the
// per-minute ceiling, minimum spacing, quota accounting, and the retry
// policy. Callers always receive usable text; failures settle into fallback
// content flagged as such.
type Gateway struct {
	client Client
	ledger *Ledger
	cfg    GatewayConfig
	clock  Clock
	notify func(string)

	// rng picks fallback questions on caller goroutines; it needs its own
	// lock because math/rand.Rand is not safe for concurrent use.
	rngMu sync.Mutex
	rng   *rand.Rand

	queue chan *request
	stop  chan struct{}

	mu           sync.Mutex
	lastDispatch time.Time
	windowStart  time.Time
	windowCount  int
	warnedDay    string
}

// NewGateway starts the dispatcher. Close releases it.
func NewGateway(client Client, ledger *Ledger, cfg GatewayConfig) *Gateway {
	cfg.applyDefaults()
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	g := &Gateway{
		client: client,
		ledger: ledger,
		cfg:    cfg,
		clock:  systemClock{},
		notify: func(string) {},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		queue:  make(chan *request, cfg.QueueCapacity),
		stop:   make(chan struct{}),
	}
	go g.dispatchLoop()
	return g
}

// WithClock replaces the dispatcher clock. Call before any request is queued.
func (g *Gateway) WithClock(c Clock) *Gateway {
	if c != nil {
		g.clock = c
	}
	return g
}

// WithNotifier wires user-visible advisories (quota warnings, key problems).
func (g *Gateway) WithNotifier(fn func(string)) *Gateway {
	if fn != nil {
		g.notify = fn
	}
	return g
}

// Close stops the dispatcher. Queued requests settle with an error.
func (g *Gateway) Close() {
	close(g.stop)
}

// GenerateTurn returns the next interviewer line. It never fails: quota,
// availability, and credential problems all degrade to a template question
// flagged as fallback.
func (g *Gateway) GenerateTurn(ctx context.Context, p interview.Profile, utterance string, history []interview.Turn) interview.GeneratedTurn {
	text, err := g.do(ctx, buildTurnPrompt(p, utterance, history, g.cfg.HistoryLimit))
	if err == nil && text != "" {
		return interview.GeneratedTurn{Text: text, Source: interview.SourceGenerated}
	}
	if err != nil {
		g.reportGenerateError(err)
	}
	return interview.GeneratedTurn{
		Text:   g.pickFallback(p.Role, askedQuestions(history)),
		Source: interview.SourceFallback,
	}
}

// pickFallback serializes access to the fallback RNG; GenerateTurn runs on
// one goroutine per session.
func (g *Gateway) pickFallback(role string, asked map[string]bool) string {
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return pickFallbackQuestion(role, asked, g.rng)
}

// GenerateFeedback returns the structured evaluation for a finished
// transcript. A transcript without a single non-empty answer short-circuits
// to the zero-score structure without touching the network.
func (g *Gateway) GenerateFeedback(ctx context.Context, p interview.Profile, transcript []interview.QA) interview.Feedback {
	answered := false
	for _, qa := range transcript {
		if len(qa.Answer) > 0 {
			answered = true
			break
		}
	}
	if !answered {
		return zeroFeedback()
	}

	text, err := g.do(ctx, buildFeedbackPrompt(p, transcript))
	if err != nil {
		g.reportGenerateError(err)
		return fallbackFeedback()
	}
	fb, err := parseFeedback(text)
	if err != nil {
		log.Printf("llm gateway: unparseable feedback reply: %v", err)
		return fallbackFeedback()
	}
	return fb
}

// do enqueues one prompt and waits for the dispatcher to settle it. Calls at
// or past the daily quota never reach the queue.
func (g *Gateway) do(ctx context.Context, prompt string) (string, error) {
	if g.ledger.Count(DayKey(g.clock.Now())) >= g.cfg.DailyQuota {
		return "", errDailyQuota
	}

	req := &request{ctx: ctx, prompt: prompt, result: make(chan outcome, 1)}
	select {
	case g.queue <- req:
	default:
		return "", ErrQueueOverloaded
	}

	select {
	case out := <-req.result:
		return out.text, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-g.stop:
		return "", errClosed
	}
}

func (g *Gateway) dispatchLoop() {
	for {
		select {
		case <-g.stop:
			return
		case req := <-g.queue:
			text, err := g.dispatch(req)
			req.result <- outcome{text: text, err: err}
		}
	}
}

// dispatch runs one queue entry to completion: pacing, quota accounting, and
// the bounded retry loop. It is only ever called from the dispatcher
// goroutine, so dispatch decisions are serialized by construction.
func (g *Gateway) dispatch(req *request) (string, error) {
	quotaRetried := false

	for attempt := 0; ; attempt++ {
		g.pace()

		day := DayKey(g.clock.Now())
		if g.ledger.Count(day) >= g.cfg.DailyQuota {
			return "", errDailyQuota
		}
		g.recordDispatch(day)

		ctx, cancel := context.WithTimeout(req.ctx, g.cfg.RequestTimeout)
		text, err := g.client.Generate(ctx, req.prompt)
		cancel()
		if err == nil {
			return text, nil
		}

		switch {
		case errors.Is(err, ErrQuotaExceeded):
			// One long wait, one more try, then give up to fallback.
			if quotaRetried {
				return "", err
			}
			quotaRetried = true
			log.Printf("llm gateway: 429 from endpoint, retrying once in %s", g.cfg.QuotaRetryWait)
			g.clock.Sleep(g.cfg.QuotaRetryWait)
		case errors.Is(err, ErrInvalidKey), errors.Is(err, ErrMissingKey):
			return "", err
		case isStatusError(err):
			if attempt >= g.cfg.MaxRetries {
				return "", err
			}
			delay := g.cfg.RetryBaseDelay << attempt
			log.Printf("llm gateway: attempt %d failed (%v), backing off %s", attempt+1, err, delay)
			g.clock.Sleep(delay)
		default:
			// Network-level failure: no retry, immediate fallback.
			return "", err
		}
	}
}

// pace enforces the per-minute ceiling and the minimum spacing between
// dispatches, sleeping as needed.
func (g *Gateway) pace() {
	g.mu.Lock()
	now := g.clock.Now()

	if g.cfg.MinInterval > 0 && !g.lastDispatch.IsZero() {
		if since := now.Sub(g.lastDispatch); since < g.cfg.MinInterval {
			wait := g.cfg.MinInterval - since
			g.mu.Unlock()
			g.clock.Sleep(wait)
			g.mu.Lock()
			now = g.clock.Now()
		}
	}

	if g.windowStart.IsZero() || now.Sub(g.windowStart) >= time.Minute {
		g.windowStart = now
		g.windowCount = 0
	} else if g.windowCount >= g.cfg.MaxPerMinute {
		wait := time.Minute - now.Sub(g.windowStart)
		g.mu.Unlock()
		g.clock.Sleep(wait)
		g.mu.Lock()
		g.windowStart = g.clock.Now()
		g.windowCount = 0
	}
	g.mu.Unlock()
}

// recordDispatch counts the request in the rate window and the daily ledger,
// emitting the one-time 90% advisory when crossed.
func (g *Gateway) recordDispatch(day string) {
	g.mu.Lock()
	g.windowCount++
	g.lastDispatch = g.clock.Now()
	warned := g.warnedDay == day
	g.mu.Unlock()

	n := g.ledger.Increment(day)
	if !warned && g.cfg.DailyQuota > 0 && n*10 >= g.cfg.DailyQuota*9 {
		g.mu.Lock()
		g.warnedDay = day
		g.mu.Unlock()
		g.notify("You have used 90% of today's interview generation quota.")
	}
}

func (g *Gateway) reportGenerateError(err error) {
	switch {
	case errors.Is(err, errDailyQuota):
		// Expected once the ledger fills; no log spam.
	case errors.Is(err, ErrMissingKey):
		g.notify("No Gemini API key is configured. Add one in settings to enable generated questions.")
	case errors.Is(err, ErrInvalidKey):
		g.notify("Your Gemini API key was rejected. Validate a new key in settings.")
	case errors.Is(err, ErrQueueOverloaded):
		log.Printf("llm gateway: %v", err)
	default:
		log.Printf("llm gateway: generation failed: %v", err)
	}
}

func isStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}
