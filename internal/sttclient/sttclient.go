// Package sttclient implements the STT Client component: it owns a single
// streaming recognizer session for the duration of a call, translating raw
// telephony audio into an event stream of interim transcripts, final
// transcripts, and endpoint markers. It wraps a pkg/provider/stt.Provider the
// way the teacher's pkg/provider/stt/deepgram package wraps a raw WebSocket
// connection: a state machine plus a reconnect/keepalive loop sitting above
// the wire protocol.
package sttclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxrelay/dialogcore/pkg/provider/stt"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// State is a value in the STT Client's state machine:
// IDLE -> CONNECTING -> READY <-> RECONNECTING -> READY | FAILED -> TERMINATED.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateFailed
	StateTerminated
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventType identifies the kind of event emitted on the Client's Events channel.
type EventType int

const (
	EventReady EventType = iota
	EventTranscriptInterim
	EventTranscriptFinal
	EventSpeechEnded
	EventFinished
	EventDisconnected
	EventReconnected
	EventReconnectFailed
	EventError
)

// Event is a single item on the Client's event stream.
type Event struct {
	Type       EventType
	Transcript types.Transcript // valid for interim/final/speech-ended events
	Attempts   int              // valid for EventReconnected
	Reason     string           // valid for EventDisconnected/EventError
	Err        error            // valid for EventError
}

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepaliveInterval = 15 * time.Second
	defaultKeepaliveIdle     = 10 * time.Second
	defaultReconnectBaseDly  = 1 * time.Second
	defaultMaxReconnectTries = 5
	defaultStopGrace         = 300 * time.Millisecond
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithConnectTimeout overrides the bounded timeout for the initial connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) { c.connectTimeout = d }
}

// WithKeepalive overrides the keepalive ticker interval and the idle
// threshold above which a keepalive frame is sent.
func WithKeepalive(interval, idleThreshold time.Duration) Option {
	return func(c *Client) {
		c.keepaliveInterval = interval
		c.keepaliveIdle = idleThreshold
	}
}

// WithReconnectPolicy overrides the linear-backoff base delay and the
// maximum number of reconnect attempts.
func WithReconnectPolicy(baseDelay time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		c.reconnectBaseDelay = baseDelay
		c.maxReconnectAttempts = maxAttempts
	}
}

// Client is the STT Client component. One Client instance serves exactly one
// call for its lifetime.
//
// All exported methods are safe for concurrent use.
type Client struct {
	provider stt.Provider
	cfg      stt.StreamConfig

	connectTimeout       time.Duration
	keepaliveInterval    time.Duration
	keepaliveIdle        time.Duration
	reconnectBaseDelay   time.Duration
	maxReconnectAttempts int
	stopGrace            time.Duration

	events chan Event

	mu         sync.Mutex
	state      State
	session    stt.SessionHandle
	lastAudio  time.Time
	autoReconn bool

	bufMu     sync.Mutex
	finalSoFar string
	interimTail string

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Client bound to provider, ready to Connect with cfg.
func New(provider stt.Provider, cfg stt.StreamConfig, opts ...Option) *Client {
	c := &Client{
		provider:             provider,
		cfg:                  cfg,
		connectTimeout:       defaultConnectTimeout,
		keepaliveInterval:    defaultKeepaliveInterval,
		keepaliveIdle:        defaultKeepaliveIdle,
		reconnectBaseDelay:   defaultReconnectBaseDly,
		maxReconnectAttempts: defaultMaxReconnectTries,
		stopGrace:            defaultStopGrace,
		events:               make(chan Event, 64),
		state:                StateIdle,
		autoReconn:           true,
		done:                 make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Events returns the channel on which the Client emits state and transcript
// events. The channel is closed after EventFinished (graceful stop) or once
// the TERMINATED/FAILED state is reached through cancellation.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the Client's current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the streaming session within the configured connect
// timeout and transitions to READY on success.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	session, err := c.provider.StartStream(connectCtx, c.cfg)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("sttclient: connect: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.lastAudio = time.Now()
	c.mu.Unlock()

	c.setState(StateReady)
	c.emit(Event{Type: EventReady})

	c.wg.Add(1)
	go c.runSession(ctx, session)

	c.wg.Add(1)
	go c.keepaliveLoop(ctx)

	return nil
}

// SendAudio forwards a raw audio frame to the recognizer. It is non-blocking
// and drops the frame (returning false) if the client is not READY or the
// transport is not currently writable.
func (c *Client) SendAudio(chunk []byte) bool {
	c.mu.Lock()
	ready := c.state == StateReady
	session := c.session
	c.mu.Unlock()

	if !ready || session == nil {
		return false
	}

	if err := session.SendAudio(chunk); err != nil {
		return false
	}

	c.mu.Lock()
	c.lastAudio = time.Now()
	c.mu.Unlock()
	return true
}

// Finalize requests that the recognizer force-emit any pending partial as a
// final transcript, used to flush the utterance on barge-in. trailingSilence
// is advisory and is not currently forwarded to the provider wire protocol.
func (c *Client) Finalize(trailingSilence time.Duration) {
	_ = trailingSilence
	c.bufMu.Lock()
	if c.interimTail != "" {
		c.finalSoFar = strings.TrimSpace(c.finalSoFar + " " + c.interimTail)
		c.interimTail = ""
	}
	trimmed := strings.TrimSpace(c.finalSoFar)
	c.finalSoFar = ""
	c.bufMu.Unlock()

	if trimmed == "" {
		return
	}
	t := types.Transcript{Text: trimmed, IsFinal: true, Endpoint: true}
	c.emit(Event{Type: EventTranscriptFinal, Transcript: t})
	c.emit(Event{Type: EventSpeechEnded, Transcript: t})
}

// Stop performs a graceful close: it disables reconnection, waits up to the
// configured grace window for trailing finals, then transitions to
// TERMINATED.
func (c *Client) Stop() error {
	c.mu.Lock()
	c.autoReconn = false
	session := c.session
	c.mu.Unlock()

	time.Sleep(c.stopGrace)

	c.setState(StateTerminated)
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	var err error
	if session != nil {
		err = session.Close()
	}
	// done is already closed, so emit would race it; send directly, dropping
	// the event only if the buffer is full.
	select {
	case c.events <- Event{Type: EventFinished}:
	default:
	}
	close(c.events)
	return err
}

// Cancel closes the session immediately without waiting for trailing finals.
func (c *Client) Cancel() error {
	c.mu.Lock()
	c.autoReconn = false
	session := c.session
	c.mu.Unlock()

	c.setState(StateTerminated)
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()

	var err error
	if session != nil {
		err = session.Close()
	}
	close(c.events)
	return err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// runSession drains the session's partial/final transcript channels until
// both close, then decides whether to reconnect.
func (c *Client) runSession(ctx context.Context, session stt.SessionHandle) {
	defer c.wg.Done()

	partials := session.Partials()
	finals := session.Finals()

	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			c.handlePartial(t)
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			c.handleFinal(t)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}

	// Both channels closed: the transport went away. If we are still
	// supposed to be in-call, treat this as an unexpected disconnect.
	c.mu.Lock()
	shouldReconnect := c.autoReconn && c.state == StateReady
	c.mu.Unlock()

	if !shouldReconnect {
		return
	}

	c.emit(Event{Type: EventDisconnected, Reason: "transport closed"})
	c.reconnect(ctx)
}

// handlePartial implements steps 3-4 of the transcript-accumulation
// algorithm: interim tokens replace the candidate continuation, and an
// interim event is emitted with the full final+interim text.
func (c *Client) handlePartial(t types.Transcript) {
	c.bufMu.Lock()
	c.interimTail = t.Text
	combined := c.finalSoFar + c.interimTail
	c.bufMu.Unlock()

	c.emit(Event{Type: EventTranscriptInterim, Transcript: types.Transcript{
		Text:     combined,
		Language: t.Language,
	}})
}

// handleFinal implements steps 1-2 and 5 of the transcript-accumulation
// algorithm: final tokens are appended to the confirmed buffer; once an
// endpoint is detected and the confirmed buffer is non-empty, a
// transcript.final + speech.ended pair fires and both buffers reset.
func (c *Client) handleFinal(t types.Transcript) {
	c.bufMu.Lock()
	if c.finalSoFar == "" {
		c.finalSoFar = t.Text
	} else {
		c.finalSoFar = c.finalSoFar + " " + t.Text
	}
	c.interimTail = ""

	if !t.Endpoint {
		combined := c.finalSoFar
		c.bufMu.Unlock()
		c.emit(Event{Type: EventTranscriptInterim, Transcript: types.Transcript{Text: combined, Language: t.Language}})
		return
	}

	trimmed := strings.TrimSpace(c.finalSoFar)
	c.finalSoFar = ""
	c.bufMu.Unlock()

	if trimmed == "" {
		return
	}
	final := types.Transcript{Text: trimmed, IsFinal: true, Endpoint: true, Language: t.Language}
	c.emit(Event{Type: EventTranscriptFinal, Transcript: final})
	c.emit(Event{Type: EventSpeechEnded, Transcript: final})
}

// keepaliveLoop sends a keepalive frame whenever no audio has been sent for
// longer than keepaliveIdle, checked every keepaliveInterval.
func (c *Client) keepaliveLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastAudio) > c.keepaliveIdle
			ready := c.state == StateReady
			session := c.session
			c.mu.Unlock()

			if ready && idle && session != nil {
				// Empty frame stands in for the recognizer's keepalive
				// wire message; concrete backends may override SendAudio
				// to special-case a zero-length chunk.
				_ = session.SendAudio(nil)
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// reconnect attempts reconnection with linear backoff (base_delay *
// attempt_count) up to maxReconnectAttempts. On success it re-sends
// configuration by opening a fresh stream; the transcript buffers are left
// untouched so an in-flight utterance continues across the reconnect.
func (c *Client) reconnect(ctx context.Context) {
	c.setState(StateReconnecting)

	for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		delay := c.reconnectBaseDelay * time.Duration(attempt)
		slog.Info("sttclient: reconnect attempt", "attempt", attempt, "delay", delay)

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}

		connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		session, err := c.provider.StartStream(connectCtx, c.cfg)
		cancel()
		if err != nil {
			slog.Warn("sttclient: reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		c.session = session
		c.lastAudio = time.Now()
		c.mu.Unlock()

		c.setState(StateReady)
		c.emit(Event{Type: EventReconnected, Attempts: attempt})

		c.wg.Add(1)
		go c.runSession(ctx, session)
		return
	}

	c.setState(StateFailed)
	c.emit(Event{Type: EventReconnectFailed})
}
