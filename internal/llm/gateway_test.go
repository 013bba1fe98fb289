package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BeskiJoseph/interview/internal/interview"
)

// fakeClock advances instantly: Sleep records the request and moves Now.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	replies []string
	errs    []error
	block   chan struct{} // when set, Generate waits until closed
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "Next question?", nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestGateway(t *testing.T, client Client, cfg GatewayConfig) (*Gateway, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	g := NewGateway(client, NewLedger(nil), cfg).WithClock(clock)
	t.Cleanup(g.Close)
	return g, clock
}

func TestGateway_GeneratesTurn(t *testing.T) {
	client := &fakeLLM{replies: []string{"Why distributed systems?"}}
	g, _ := newTestGateway(t, client, GatewayConfig{})
	turn := g.GenerateTurn(context.Background(), interview.Profile{Role: "Software Engineer"}, "I like Go", nil)
	if turn.Source != interview.SourceGenerated {
		t.Fatalf("expected generated turn, got %s", turn.Source)
	}
	if turn.Text != "Why distributed systems?" {
		t.Fatalf("unexpected text: %q", turn.Text)
	}
}

func TestGateway_QuotaShortCircuit(t *testing.T) {
	client := &fakeLLM{}
	g, _ := newTestGateway(t, client, GatewayConfig{DailyQuota: 3, MinInterval: time.Millisecond})

	p := interview.Profile{Role: "Software Engineer"}
	for i := 0; i < 5; i++ {
		turn := g.GenerateTurn(context.Background(), p, fmt.Sprintf("answer %d", i), nil)
		if i < 3 && turn.Source != interview.SourceGenerated {
			t.Fatalf("call %d should be generated", i)
		}
		if i >= 3 {
			if turn.Source != interview.SourceFallback {
				t.Fatalf("call %d past quota should be fallback", i)
			}
			if turn.Text == "" {
				t.Fatalf("fallback text must be non-empty")
			}
		}
	}
	if got := client.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 network calls, got %d", got)
	}
}

func TestGateway_QuotaBoundary(t *testing.T) {
	client := &fakeLLM{}
	clock := newFakeClock()
	ledger := NewLedger(nil)
	g := NewGateway(client, ledger, GatewayConfig{DailyQuota: 5}).WithClock(clock)
	defer g.Close()

	day := DayKey(clock.Now())
	for i := 0; i < 4; i++ {
		ledger.Increment(day)
	}

	// At quota-1 the call still goes to the network once.
	turn := g.GenerateTurn(context.Background(), interview.Profile{}, "hello", nil)
	if turn.Source != interview.SourceGenerated {
		t.Fatalf("threshold call should reach the network")
	}
	if client.callCount() != 1 {
		t.Fatalf("expected 1 network call, got %d", client.callCount())
	}
	if ledger.Count(day) != 5 {
		t.Fatalf("ledger should now be at quota, got %d", ledger.Count(day))
	}

	// The next call is pure fallback.
	turn = g.GenerateTurn(context.Background(), interview.Profile{}, "again", nil)
	if turn.Source != interview.SourceFallback {
		t.Fatalf("post-quota call should be fallback")
	}
	if client.callCount() != 1 {
		t.Fatalf("post-quota call must not reach the network")
	}
}

func TestGateway_QueueOverload(t *testing.T) {
	client := &fakeLLM{block: make(chan struct{})}
	defer close(client.block)
	g, _ := newTestGateway(t, client, GatewayConfig{QueueCapacity: 1})

	// First request occupies the dispatcher.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = g.do(ctx, "busy")
	}()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && client.callCount() == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	// Second sits in the queue behind it.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = g.do(ctx, "queued")
	}()
	time.Sleep(50 * time.Millisecond)

	_, err := g.do(context.Background(), "overflow")
	if !errors.Is(err, ErrQueueOverloaded) {
		t.Fatalf("expected ErrQueueOverloaded, got %v", err)
	}
}

func TestGateway_QuotaRetriesExactlyOnce(t *testing.T) {
	client := &fakeLLM{errs: []error{ErrQuotaExceeded, ErrQuotaExceeded}}
	wait := 30 * time.Second
	g, clock := newTestGateway(t, client, GatewayConfig{QuotaRetryWait: wait})

	turn := g.GenerateTurn(context.Background(), interview.Profile{}, "hi", nil)
	if turn.Source != interview.SourceFallback {
		t.Fatalf("expected fallback after exhausted quota retries")
	}
	if got := client.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 attempts (original + one retry), got %d", got)
	}
	var longWaits int
	for _, d := range clock.slept() {
		if d == wait {
			longWaits++
		}
	}
	if longWaits != 1 {
		t.Fatalf("expected exactly one long quota wait, got %d (%v)", longWaits, clock.slept())
	}
}

func TestGateway_BackoffBounded(t *testing.T) {
	client := &fakeLLM{errs: []error{
		&StatusError{Code: 500}, &StatusError{Code: 500}, &StatusError{Code: 500}, &StatusError{Code: 500},
	}}
	base := 2 * time.Second
	g, clock := newTestGateway(t, client, GatewayConfig{MaxRetries: 2, RetryBaseDelay: base})

	turn := g.GenerateTurn(context.Background(), interview.Profile{}, "hi", nil)
	if turn.Source != interview.SourceFallback {
		t.Fatalf("expected fallback after retries exhausted")
	}
	if got := client.callCount(); got != 3 {
		t.Fatalf("expected 3 attempts with MaxRetries=2, got %d", got)
	}
	var backoffs []time.Duration
	for _, d := range clock.slept() {
		if d == base || d == 2*base {
			backoffs = append(backoffs, d)
		}
	}
	if len(backoffs) != 2 || backoffs[0] != base || backoffs[1] != 2*base {
		t.Fatalf("expected doubling backoff [%s %s], got %v", base, 2*base, backoffs)
	}
}

func TestGateway_ConcurrentFallbacks(t *testing.T) {
	client := &fakeLLM{}
	clock := newFakeClock()
	ledger := NewLedger(nil)
	g := NewGateway(client, ledger, GatewayConfig{DailyQuota: 1}).WithClock(clock)
	defer g.Close()
	ledger.Increment(DayKey(clock.Now()))

	// Sessions degrade to fallback on their own goroutines; the shared RNG
	// must tolerate that.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			turn := g.GenerateTurn(context.Background(), interview.Profile{Role: "Software Engineer"}, fmt.Sprintf("answer %d", n), nil)
			if turn.Source != interview.SourceFallback || turn.Text == "" {
				t.Errorf("expected non-empty fallback turn, got %+v", turn)
			}
		}(i)
	}
	wg.Wait()
	if client.callCount() != 0 {
		t.Fatalf("full ledger must keep every call off the network, got %d", client.callCount())
	}
}

func TestGateway_NetworkErrorNoRetry(t *testing.T) {
	client := &fakeLLM{errs: []error{errors.New("dial tcp: connection refused")}}
	g, _ := newTestGateway(t, client, GatewayConfig{})

	turn := g.GenerateTurn(context.Background(), interview.Profile{}, "hi", nil)
	if turn.Source != interview.SourceFallback {
		t.Fatalf("expected immediate fallback on network error")
	}
	if got := client.callCount(); got != 1 {
		t.Fatalf("network errors must not be retried, got %d attempts", got)
	}
}

func TestGateway_NinetyPercentAdvisory(t *testing.T) {
	client := &fakeLLM{}
	clock := newFakeClock()
	var notices []string
	g := NewGateway(client, NewLedger(nil), GatewayConfig{DailyQuota: 10}).
		WithClock(clock).
		WithNotifier(func(s string) { notices = append(notices, s) })
	defer g.Close()

	for i := 0; i < 10; i++ {
		g.GenerateTurn(context.Background(), interview.Profile{}, fmt.Sprintf("a%d", i), nil)
	}
	var quotaNotices int
	for _, n := range notices {
		if strings.Contains(n, "90%") {
			quotaNotices++
		}
	}
	if quotaNotices != 1 {
		t.Fatalf("expected one 90%% advisory, got %d (%v)", quotaNotices, notices)
	}
}

func TestGenerateFeedback_EmptyTranscriptShortCircuits(t *testing.T) {
	client := &fakeLLM{}
	g, _ := newTestGateway(t, client, GatewayConfig{})

	fb := g.GenerateFeedback(context.Background(), interview.Profile{}, []interview.QA{
		{Question: "Tell me about yourself."},
		{Question: "Why this role?", Answer: ""},
	})
	if fb.OverallScore != 0 {
		t.Fatalf("expected zero score, got %d", fb.OverallScore)
	}
	if client.callCount() != 0 {
		t.Fatalf("empty transcript must not contact the endpoint")
	}
}

func TestGenerateFeedback_ParsesReply(t *testing.T) {
	client := &fakeLLM{replies: []string{
		"```json\n{\"strengths\":[\"clear answers\"],\"improvements\":[\"more detail\"],\"overallScore\":12}\n```",
	}}
	g, _ := newTestGateway(t, client, GatewayConfig{})

	fb := g.GenerateFeedback(context.Background(), interview.Profile{}, []interview.QA{
		{Question: "Q", Answer: "A"},
	})
	if len(fb.Strengths) != 1 || fb.Strengths[0] != "clear answers" {
		t.Fatalf("unexpected strengths: %v", fb.Strengths)
	}
	if fb.OverallScore != 10 {
		t.Fatalf("score must clamp to 10, got %d", fb.OverallScore)
	}
}

func TestGenerateFeedback_FallbackOnGarbage(t *testing.T) {
	client := &fakeLLM{replies: []string{"I cannot help with that."}}
	g, _ := newTestGateway(t, client, GatewayConfig{})

	fb := g.GenerateFeedback(context.Background(), interview.Profile{}, []interview.QA{
		{Question: "Q", Answer: "A"},
	})
	if len(fb.Improvements) == 0 || !strings.Contains(fb.Improvements[0], "unable to evaluate") {
		t.Fatalf("expected the fixed fallback structure, got %+v", fb)
	}
}

func TestFallback_NoRepeatsWithinSession(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	asked := map[string]bool{}
	pool := poolForRole("Software Engineer")

	for i := 0; i < len(pool); i++ {
		q := pickFallbackQuestion("Software Engineer", asked, rng)
		if asked[q] {
			t.Fatalf("question repeated before pool exhaustion: %q", q)
		}
		if q == exhaustedPoolQuestion {
			t.Fatalf("exhausted sentence returned too early (after %d picks)", i)
		}
		asked[q] = true
	}
	if q := pickFallbackQuestion("Software Engineer", asked, rng); q != exhaustedPoolQuestion {
		t.Fatalf("expected the fixed sentence once exhausted, got %q", q)
	}
}

func TestFallback_DerivedFromHistory(t *testing.T) {
	history := []interview.Turn{
		{Role: interview.RoleAssistant, Content: "Tell me about yourself and what draws you to this role."},
		{Role: interview.RoleUser, Content: "Sure."},
	}
	asked := askedQuestions(history)
	if !asked["Tell me about yourself and what draws you to this role."] {
		t.Fatalf("assistant turns must count as asked questions")
	}
	if asked["Sure."] {
		t.Fatalf("user turns must not count as asked questions")
	}
}
