package conversation

import (
	"testing"
	"time"
)

func waitForEvent(t *testing.T, m *Manager, want EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-m.Events():
			if !ok {
				t.Fatalf("events channel closed before %v observed", want)
			}
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestManager_Start_NoGreeting_StartsIdle(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("")
	if m.State() != StateIdle {
		t.Fatalf("expected state idle, got %v", m.State())
	}
}

func TestManager_Start_WithGreeting_EntersAgentSpeaking(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("Hello, thanks for calling.")

	e := waitForEvent(t, m, EventGreetingRequested, time.Second)
	if e.Text != "Hello, thanks for calling." {
		t.Errorf("unexpected greeting text %q", e.Text)
	}
	if m.State() != StateAgentSpeaking {
		t.Fatalf("expected state agent_speaking, got %v", m.State())
	}
}

func TestManager_FullTurnCycle(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("")
	if m.State() != StateIdle {
		t.Fatalf("expected idle, got %v", m.State())
	}

	m.OnSTTInterim("hello")
	if m.State() != StateUserSpeaking {
		t.Fatalf("expected user_speaking, got %v", m.State())
	}

	m.OnSTTSpeechEnded("hello there")
	if m.State() != StateThinking {
		t.Fatalf("expected thinking, got %v", m.State())
	}
	e := waitForEvent(t, m, EventResponseRequested, time.Second)
	if e.Transcript != "hello there" {
		t.Errorf("unexpected transcript %q", e.Transcript)
	}

	m.OnTTSAudioStarted()
	if m.State() != StateAgentSpeaking {
		t.Fatalf("expected agent_speaking, got %v", m.State())
	}

	m.OnTTSAudioDone()
	if m.State() != StateIdle {
		t.Fatalf("expected idle after turn completes, got %v", m.State())
	}
}

func TestManager_BargeIn_WhenEnabled(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour), WithBargeIn(true))
	m.Start("")
	m.OnSTTInterim("hi")
	m.OnSTTSpeechEnded("hi")
	waitForEvent(t, m, EventResponseRequested, time.Second)
	m.OnTTSAudioStarted()

	m.OnSTTInterim("wait, stop")
	waitForEvent(t, m, EventAgentInterrupted, time.Second)
	if m.State() != StateUserSpeaking {
		t.Fatalf("expected user_speaking after barge-in, got %v", m.State())
	}
}

func TestManager_BargeIn_WhenDisabled(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour), WithBargeIn(false))
	m.Start("")
	m.OnSTTInterim("hi")
	m.OnSTTSpeechEnded("hi")
	waitForEvent(t, m, EventResponseRequested, time.Second)
	m.OnTTSAudioStarted()

	m.OnSTTInterim("wait, stop")

	select {
	case e := <-m.Events():
		if e.Type == EventAgentInterrupted {
			t.Fatal("did not expect barge-in when disabled")
		}
	case <-time.After(100 * time.Millisecond):
	}
	if m.State() != StateAgentSpeaking {
		t.Fatalf("expected state unchanged (agent_speaking), got %v", m.State())
	}
}

func TestManager_SilenceTimeout(t *testing.T) {
	m := New(WithSilenceTimeout(20 * time.Millisecond))
	m.Start("")

	waitForEvent(t, m, EventSilenceTimeout, time.Second)
}

func TestManager_SilenceTimeout_ResetByInterim(t *testing.T) {
	m := New(WithSilenceTimeout(60 * time.Millisecond))
	m.Start("")

	time.Sleep(30 * time.Millisecond)
	m.OnSTTInterim("still here")

	// The timer should have been reset; no silence.timeout within a window
	// shorter than the configured timeout measured from the reset.
	select {
	case e := <-m.Events():
		if e.Type == EventSilenceTimeout {
			t.Fatal("silence timeout fired despite recent interim activity")
		}
	case <-time.After(40 * time.Millisecond):
	}
}

func TestManager_End_EmitsConversationEndedAndClosesEvents(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("")

	m.End("explicit_end")

	e := waitForEvent(t, m, EventConversationEnded, time.Second)
	if e.Reason != "explicit_end" {
		t.Errorf("unexpected reason %q", e.Reason)
	}
	if m.State() != StateEnded {
		t.Fatalf("expected state ended, got %v", m.State())
	}

	if _, ok := <-m.Events(); ok {
		t.Error("expected events channel closed after End")
	}
}

func TestManager_End_IsIdempotent(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("")
	m.End("explicit_end")
	m.End("explicit_end")
}

func TestManager_GreetingNotCountedAsTurn(t *testing.T) {
	m := New(WithSilenceTimeout(time.Hour))
	m.Start("hello")
	waitForEvent(t, m, EventGreetingRequested, time.Second)

	m.End("explicit_end")
	e := waitForEvent(t, m, EventConversationEnded, time.Second)
	if e.Metrics.Turns != 0 {
		t.Errorf("expected 0 turns for greeting-only call, got %d", e.Metrics.Turns)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateIdle:         "idle",
		StateUserSpeaking: "user_speaking",
		StateThinking:     "thinking",
		StateAgentSpeaking: "agent_speaking",
		StateEnded:         "ended",
		State(99):          "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
