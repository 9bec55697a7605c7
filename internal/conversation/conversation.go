// Package conversation implements the Conversation Manager component: it
// enforces turn-taking by translating STT and TTS events into high-level
// intents (speak, respond, interrupt, end) for the session orchestrator to
// act on. It owns no transport of its own; it only tracks state and timers.
package conversation

import (
	"sync"
	"time"
)

// State is a value in the Conversation Manager's turn-taking state machine.
type State int

const (
	StateIdle State = iota
	StateUserSpeaking
	StateThinking
	StateAgentSpeaking
	StateEnded
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "user_speaking"
	case StateThinking:
		return "thinking"
	case StateAgentSpeaking:
		return "agent_speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// EventType identifies the kind of event emitted on the Manager's Events
// channel.
type EventType int

const (
	EventGreetingRequested EventType = iota
	EventResponseRequested
	EventAgentInterrupted
	EventSilenceTimeout
	EventConversationEnded
)

// Event is a single item on the Manager's event stream.
type Event struct {
	Type EventType

	// Text is valid on EventGreetingRequested (the configured greeting).
	Text string

	// Transcript is valid on EventResponseRequested (the finalized user
	// utterance).
	Transcript string

	// Reason is valid on EventConversationEnded ("explicit_end" or
	// "silence_timeout").
	Reason string

	// Metrics is valid on EventConversationEnded.
	Metrics Metrics
}

// Metrics accumulates call-level counters surfaced on conversation end. The
// session orchestrator is the source of truth for cost aggregation; the
// Manager only tracks turn-taking-relevant counts.
type Metrics struct {
	Turns            int
	Interruptions    int
	SilenceTimeouts  int
	CallDuration     time.Duration
}

const defaultSilenceTimeout = 30 * time.Second

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithSilenceTimeout overrides the default 30s silence timeout.
func WithSilenceTimeout(d time.Duration) Option {
	return func(m *Manager) { m.silenceTimeout = d }
}

// WithBargeIn enables or disables barge-in handling (enabled by default).
func WithBargeIn(enabled bool) Option {
	return func(m *Manager) { m.bargeInEnabled = enabled }
}

// Manager is the Conversation Manager component. One Manager instance
// serves exactly one call for its lifetime.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	silenceTimeout time.Duration
	bargeInEnabled bool

	events chan Event

	mu        sync.Mutex
	state     State
	startedAt time.Time
	metrics   Metrics

	timerMu     sync.Mutex
	timer       *time.Timer
	timerGen    int
	stopped     bool
}

// New creates a Manager ready to Start.
func New(opts ...Option) *Manager {
	m := &Manager{
		silenceTimeout: defaultSilenceTimeout,
		bargeInEnabled: true,
		events:         make(chan Event, 32),
		state:          StateIdle,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Events returns the channel on which the Manager emits turn-taking events.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the Manager's current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins the call. If greeting is non-empty, the Manager emits
// EventGreetingRequested and transitions directly to agent_speaking,
// bypassing the usual idle -> user_speaking -> thinking path, per the
// greeting contract (not added to history as a user message — the caller is
// responsible for appending it as an assistant message). Otherwise the
// Manager starts in idle with the silence timer armed.
func (m *Manager) Start(greeting string) {
	m.mu.Lock()
	m.startedAt = time.Now()
	m.mu.Unlock()

	if greeting != "" {
		m.setState(StateAgentSpeaking)
		m.emit(Event{Type: EventGreetingRequested, Text: greeting})
		return
	}

	m.setState(StateIdle)
	m.armSilenceTimer()
}

// OnSTTInterim handles a non-final transcript from the STT client. From
// idle it starts user_speaking; during agent_speaking with barge-in
// enabled it triggers an interruption. Interim activity resets the silence
// timer when the resulting state is idle or user_speaking.
func (m *Manager) OnSTTInterim(text string) {
	if text == "" {
		return
	}

	switch m.State() {
	case StateIdle:
		m.setState(StateUserSpeaking)
	case StateAgentSpeaking:
		if m.bargeInEnabled {
			m.mu.Lock()
			m.metrics.Interruptions++
			m.mu.Unlock()
			m.setState(StateUserSpeaking)
			m.emit(Event{Type: EventAgentInterrupted})
		}
	case StateUserSpeaking:
		// Already tracking this utterance; nothing to transition.
	}

	// The silence timer runs during idle and user_speaking; interim
	// activity resets it rather than disarming it outright.
	if s := m.State(); s == StateIdle || s == StateUserSpeaking {
		m.armSilenceTimer()
	}
}

// OnSTTSpeechEnded handles the STT client's speech.ended event: the
// finalized transcript moves the conversation into thinking and requests a
// response.
func (m *Manager) OnSTTSpeechEnded(transcript string) {
	m.setState(StateThinking)
	m.disarmSilenceTimer()
	m.mu.Lock()
	m.metrics.Turns++
	m.mu.Unlock()
	m.emit(Event{Type: EventResponseRequested, Transcript: transcript})
}

// OnTTSAudioStarted handles the TTS client's first audio chunk for a
// synthesis response, transitioning into agent_speaking.
func (m *Manager) OnTTSAudioStarted() {
	m.setState(StateAgentSpeaking)
}

// OnTTSAudioDone handles the TTS client's audio.done event: the turn is
// complete and the Manager returns to idle with the silence timer re-armed.
//
// This only applies while the Manager is still agent_speaking. During
// barge-in, TTS cancellation and STT force-finalization race concurrently;
// if OnSTTSpeechEnded's thinking transition wins, a late audio.done from the
// cancelled synthesis must not clobber it back to idle.
func (m *Manager) OnTTSAudioDone() {
	if m.State() != StateAgentSpeaking {
		return
	}
	m.setState(StateIdle)
	m.armSilenceTimer()
}

// End transitions to the terminal ended state and emits
// EventConversationEnded with reason and the accumulated metrics. Safe to
// call more than once; only the first call emits an event.
func (m *Manager) End(reason string) {
	m.mu.Lock()
	if m.state == StateEnded {
		m.mu.Unlock()
		return
	}
	m.state = StateEnded
	m.metrics.CallDuration = time.Since(m.startedAt)
	metrics := m.metrics
	m.mu.Unlock()

	m.disarmSilenceTimer()
	m.timerMu.Lock()
	m.stopped = true
	m.timerMu.Unlock()

	m.emit(Event{Type: EventConversationEnded, Reason: reason, Metrics: metrics})
	close(m.events)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) emit(e Event) {
	m.timerMu.Lock()
	stopped := m.stopped
	m.timerMu.Unlock()
	if stopped && e.Type != EventConversationEnded {
		return
	}
	select {
	case m.events <- e:
	default:
		// Events channel is sized generously for a single call; a full
		// channel indicates the consumer has stalled. Drop rather than
		// block turn-taking forever.
	}
}

// armSilenceTimer (re)starts the silence timeout. Each call invalidates any
// previously scheduled firing via a generation counter, so a stale timer
// firing after a subsequent disarm/rearm is a no-op.
func (m *Manager) armSilenceTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = time.AfterFunc(m.silenceTimeout, func() {
		m.fireSilenceTimeout(gen)
	})
}

func (m *Manager) disarmSilenceTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
}

func (m *Manager) fireSilenceTimeout(gen int) {
	m.timerMu.Lock()
	current := m.timerGen
	stopped := m.stopped
	m.timerMu.Unlock()
	if stopped || gen != current {
		return
	}

	m.mu.Lock()
	m.metrics.SilenceTimeouts++
	m.mu.Unlock()
	m.emit(Event{Type: EventSilenceTimeout})
}
