// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle:
// once opened, a session accepts raw PCM (or codec-native) audio frames and
// emits two streams of Transcript values — low-latency partials for
// barge-in detection and authoritative finals for the conversation log.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"errors"

	"github.com/voxrelay/dialogcore/pkg/types"
)

// ErrNotSupported is returned by SessionHandle methods that a given backend
// cannot honor (e.g. mid-session keyword updates).
var ErrNotSupported = errors.New("stt: operation not supported by this provider")

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g. 8000 for telephony
	// mu-law, 16000 for STT-optimised mono PCM).
	SampleRate int

	// Channels is the number of audio channels. Must be 1.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect the language, if
	// supported.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words (names, addresses, account numbers).
	Keywords []types.KeywordBoost

	// AudioFormat is the inbound codec hint (e.g. "mulaw", "linear16").
	// Empty lets the provider apply its own default.
	AudioFormat string

	// EnableEndpointDetection requests that the provider signal
	// end-of-utterance (Transcript.Endpoint) on final transcripts. The
	// Conversation Manager's turn-taking loop depends on this signal to
	// leave user_speaking (spec.md §4.1 step 5, §4.4).
	EnableEndpointDetection bool

	// EnableInterim requests low-latency interim transcripts, used for
	// barge-in detection.
	EnableInterim bool
}

// SessionHandle represents an open STT streaming session. It is an
// interface so that test code can provide mock implementations without
// requiring a live provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of audio bytes to the provider for
	// transcription. The chunk must match the format agreed in
	// StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values as the provider makes preliminary guesses. These
	// drive barge-in detection but must not be written to the
	// authoritative conversation log. The channel is closed when the
	// session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative
	// Transcript values once the provider has committed to a recognition
	// result. The channel is closed when the session ends.
	Finals() <-chan types.Transcript

	// SetKeywords replaces the active keyword boost list without
	// restarting the session. Providers that do not support mid-session
	// keyword updates may return ErrNotSupported.
	SetKeywords(keywords []types.KeywordBoost) error

	// Close terminates the session, flushes any pending audio, and
	// releases all associated resources. After Close returns, the
	// Partials and Finals channels will be closed. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close
	// when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
