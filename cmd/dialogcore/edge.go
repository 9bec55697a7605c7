package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxrelay/dialogcore/internal/orchestrator"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// edgeEnvelope is the wire shape of every message exchanged with the
// telephony edge simulator, inbound or outbound. Grounded on the teacher's
// internal/discord/bot.go event-dispatch loop (a single select over
// inbound/outbound messages), substituting coder/websocket read/write for
// Discord's gateway socket.
type edgeEnvelope struct {
	Type string `json:"type"`

	// Outbound fields.
	Text    string                    `json:"text,omitempty"`
	Frame   string                    `json:"frame,omitempty"` // base64
	CallID  string                    `json:"call_id,omitempty"`
	Name    string                    `json:"name,omitempty"`
	Args    string                    `json:"arguments,omitempty"`
	Reason  string                    `json:"reason,omitempty"`
	Message string                    `json:"message,omitempty"`
	Costs   *types.CallCostBreakdown `json:"costs,omitempty"`

	// Inbound fields (send_tool_result).
	Result string `json:"result,omitempty"`
}

// edgeServer accepts WebSocket connections standing in for the telephony
// media gateway, one call per connection.
type edgeServer struct {
	dialer func() (*orchestrator.Orchestrator, error)
	agent  types.AgentConfig
}

func newEdgeServer(dialer func() (*orchestrator.Orchestrator, error), agent types.AgentConfig) *edgeServer {
	return &edgeServer{dialer: dialer, agent: agent}
}

func (s *edgeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("edge: accept failed", "err", err)
		return
	}

	callID := uuid.NewString()
	logger := slog.With("call_id", callID)
	logger.Info("edge: call connected")

	o, err := s.dialer()
	if err != nil {
		logger.Error("edge: failed to build orchestrator", "err", err)
		conn.Close(websocket.StatusInternalError, "orchestrator init failed")
		return
	}

	ctx := r.Context()
	if err := o.Connect(ctx); err != nil {
		logger.Error("edge: connect failed", "err", err)
		conn.Close(websocket.StatusInternalError, "connect failed")
		return
	}
	defer func() {
		if err := o.Disconnect(); err != nil {
			logger.Warn("edge: disconnect error", "err", err)
		}
	}()

	if err := o.ConfigureSession(ctx, s.agent); err != nil {
		logger.Error("edge: configure session failed", "err", err)
		_ = writeEnvelope(ctx, conn, edgeEnvelope{Type: "error", Message: err.Error()})
		conn.Close(websocket.StatusInternalError, "configure session failed")
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		pumpOutbound(ctx, conn, o, logger)
	}()

	pumpInbound(ctx, conn, o, logger)
	<-done

	logger.Info("edge: call ended")
}

// pumpOutbound forwards Orchestrator events to the edge as JSON envelopes
// until the events channel closes or ctx is cancelled.
func pumpOutbound(ctx context.Context, conn *websocket.Conn, o *orchestrator.Orchestrator, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-o.Events():
			if !ok {
				return
			}
			env, terminal := toEnvelope(e)
			if err := writeEnvelope(ctx, conn, env); err != nil {
				logger.Warn("edge: write failed", "err", err)
				return
			}
			if terminal {
				return
			}
		}
	}
}

// pumpInbound reads control-event envelopes from the edge and drives the
// Orchestrator until the connection closes or a disconnect envelope arrives.
func pumpInbound(ctx context.Context, conn *websocket.Conn, o *orchestrator.Orchestrator, logger *slog.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			o.SendAudio(data)
			continue
		}

		var env edgeEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("edge: malformed envelope", "err", err)
			continue
		}

		switch env.Type {
		case "send_audio":
			frame, err := base64.StdEncoding.DecodeString(env.Frame)
			if err != nil {
				logger.Warn("edge: bad audio frame", "err", err)
				continue
			}
			o.SendAudio(frame)
		case "send_tool_result":
			o.SendToolResult(ctx, env.CallID, env.Name, env.Result)
		case "disconnect":
			return
		default:
			logger.Warn("edge: unknown envelope type", "type", env.Type)
		}
	}
}

// toEnvelope translates an orchestrator.Event into its wire envelope.
// terminal reports whether no further events should be expected after this
// one (conversation.ended / error).
func toEnvelope(e orchestrator.Event) (edgeEnvelope, bool) {
	switch e.Type {
	case orchestrator.EventAudioDelta:
		return edgeEnvelope{Type: "audio.delta", Frame: base64.StdEncoding.EncodeToString(e.AudioDelta)}, false
	case orchestrator.EventAudioDone:
		return edgeEnvelope{Type: "audio.done"}, false
	case orchestrator.EventTranscriptUser:
		return edgeEnvelope{Type: "transcript.user", Text: e.Text}, false
	case orchestrator.EventTranscriptAgent:
		return edgeEnvelope{Type: "transcript.agent", Text: e.Text}, false
	case orchestrator.EventFunctionCall:
		return edgeEnvelope{Type: "function.call", CallID: e.CallID, Name: e.ToolName, Args: e.ToolArgs}, false
	case orchestrator.EventAgentReady:
		return edgeEnvelope{Type: "agent.ready"}, false
	case orchestrator.EventSpeechStarted:
		return edgeEnvelope{Type: "speech.started"}, false
	case orchestrator.EventSilenceTimeout:
		return edgeEnvelope{Type: "silence.timeout"}, false
	case orchestrator.EventConversationEnded:
		costs := e.Costs
		return edgeEnvelope{Type: "conversation.ended", Reason: e.Reason, Costs: &costs}, true
	case orchestrator.EventError:
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return edgeEnvelope{Type: "error", Message: msg}, true
	default:
		return edgeEnvelope{Type: "unknown"}, false
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env edgeEnvelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("edge: marshal envelope: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
