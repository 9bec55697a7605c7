// Package ttsclient implements the TTS Client component: it turns assistant
// text into an ordered sequence of output-codec audio chunks, bridging
// whatever codec the synthesis backend emits (PCM, pass-through, or MP3) to
// the format the telephony edge expects. Codec handling is adapted from the
// teacher's pkg/audio.FormatConverter/ResampleMono16, generalized from
// Discord's fixed 48kHz stereo target to a configurable telephony output
// format, plus an MP3 decode stage built on github.com/hajimehoshi/go-mp3.
package ttsclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hajimehoshi/go-mp3"

	"github.com/voxrelay/dialogcore/pkg/provider/tts"
	"github.com/voxrelay/dialogcore/pkg/types"
)

// CodecMode selects how SynthesizeStreaming post-processes backend audio
// before emitting it as audio.delta chunks.
type CodecMode int

const (
	// CodecPassThrough forwards backend chunks unmodified (recognizer codec
	// already matches the telephony codec, e.g. µ-law 8kHz).
	CodecPassThrough CodecMode = iota
	// CodecLinearPCM treats backend chunks as 16-bit signed little-endian PCM
	// at the sample rate given to WithCodec and forwards them, fade-in/resample
	// applied.
	CodecLinearPCM
	// CodecMP3 decodes backend chunks as an MP3 stream, buffering at least
	// mp3MinBuffer bytes before the first decode to avoid partial-frame
	// failures, producing 16-bit PCM output.
	CodecMP3
)

const (
	mp3MinBuffer   = 4096
	fadeInDuration = 200 * time.Millisecond
	muLawNeutral   = 0xFF
)

// EventType identifies the kind of event emitted on a synthesis's event
// channel.
type EventType int

const (
	EventSynthesisStarted EventType = iota
	EventAudioDelta
	EventAudioDone
	EventSynthesisCancelled
)

// Event is a single item emitted during a synthesis request.
type Event struct {
	Type      EventType
	RequestID string

	// Delta is the processed audio chunk, valid on EventAudioDelta.
	Delta []byte

	// TotalBytes and Duration are valid on EventAudioDone.
	TotalBytes int
	Duration   time.Duration

	// Err is set on EventAudioDone only when the MP3 decoder cannot be set
	// up at the start of the stream; no EventAudioDelta precedes it then. A
	// backend stream that ends early is not reported as an error: it yields
	// an ordinary EventAudioDone, with Err nil, covering the bytes received.
	Err error
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithCodec selects the output codec mode and the sample rate used to size
// the fade-in window and (for linear PCM) resampling.
func WithCodec(mode CodecMode, sampleRate int) Option {
	return func(c *Client) {
		c.codec = mode
		c.sampleRate = sampleRate
	}
}

// WithResample enables naive decimation resampling by the given factor M
// (every Mth sample is kept). Only meaningful for CodecLinearPCM and
// CodecMP3 output. A factor of 1 or less disables resampling.
func WithResample(factor int) Option {
	return func(c *Client) { c.resampleFactor = factor }
}

// Client is the TTS Client component. One Client instance serves exactly one
// call for its lifetime, fanning out one synthesis request at a time.
//
// All exported methods are safe for concurrent use.
type Client struct {
	provider   tts.Provider
	codec      CodecMode
	sampleRate int

	resampleFactor int

	mu       sync.Mutex
	voice    types.VoiceProfile
	activeID string
	cancelFn context.CancelFunc
}

// New creates a Client bound to provider. provider is typically an
// *internal/resilience.TTSFallback, but any tts.Provider works.
func New(provider tts.Provider, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		codec:      CodecPassThrough,
		sampleRate: 8000,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Initialize performs any one-time setup. The current provider abstraction
// requires no token acquisition or format negotiation beyond what New and
// SetVoice already configure, so this is a bounded no-op kept for contract
// symmetry with the STT and LLM clients (and so future providers that do
// need a handshake have a natural place to add it).
func (c *Client) Initialize(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// SetVoice changes the active voice identifier for subsequent synthesis
// requests.
func (c *Client) SetVoice(voice types.VoiceProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
}

// SynthesizeStreaming begins a synthesis request for text and returns a
// channel of events: a leading EventSynthesisStarted, a sequence of
// EventAudioDelta, and a terminal EventAudioDone (or EventSynthesisCancelled
// if Cancel was called for this request). The channel is closed after the
// terminal event.
func (c *Client) SynthesizeStreaming(ctx context.Context, text string) (<-chan Event, error) {
	requestID := uuid.NewString()

	synCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.activeID = requestID
	c.cancelFn = cancel
	voice := c.voice
	c.mu.Unlock()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := c.provider.SynthesizeStream(synCtx, textCh, voice)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ttsclient: synthesize_streaming: %w", err)
	}

	out := make(chan Event, 16)
	go c.run(synCtx, requestID, audioCh, out)
	return out, nil
}

// Cancel aborts the in-flight synthesis for requestID. Audio arriving after
// cancellation for that request is discarded by run before it reaches the
// caller; per contract the caller must also treat any already-buffered
// audio.delta for a cancelled request_id as void.
func (c *Client) Cancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeID != requestID || c.cancelFn == nil {
		return
	}
	c.cancelFn()
}

func (c *Client) run(ctx context.Context, requestID string, audioCh <-chan []byte, out chan<- Event) {
	defer close(out)
	out <- Event{Type: EventSynthesisStarted, RequestID: requestID}

	var processed <-chan []byte
	var streamErr error

	switch c.codec {
	case CodecMP3:
		processed, streamErr = c.decodeMP3Stream(ctx, audioCh)
	default:
		processed = audioCh
	}

	if streamErr != nil {
		out <- Event{Type: EventAudioDone, RequestID: requestID, Err: streamErr}
		return
	}

	totalBytes := 0
	bytesEmitted := 0
	fadeBytes := c.fadeWindowBytes()
	cancelled := false

	for chunk := range processed {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			continue
		}

		out1 := chunk
		if c.resampleFactor > 1 {
			out1 = decimate(out1, c.resampleFactor)
		}
		if fadeBytes > 0 && bytesEmitted < fadeBytes {
			var consumed int
			out1, consumed = applyFadeIn(out1, bytesEmitted, fadeBytes, c.codec == CodecPassThrough)
			bytesEmitted += consumed
		}

		totalBytes += len(out1)
		out <- Event{Type: EventAudioDelta, RequestID: requestID, Delta: out1}
	}

	if cancelled || ctx.Err() != nil {
		out <- Event{Type: EventSynthesisCancelled, RequestID: requestID}
		return
	}

	out <- Event{Type: EventAudioDone, RequestID: requestID, TotalBytes: totalBytes}
}

// fadeWindowBytes returns F, the byte count spanning fadeInDuration at the
// configured sample rate, assuming 16-bit mono samples for linear PCM/MP3
// and 1 byte/sample for pass-through (µ-law).
func (c *Client) fadeWindowBytes() int {
	if c.sampleRate <= 0 {
		return 0
	}
	samples := int(float64(c.sampleRate) * fadeInDuration.Seconds())
	if c.codec == CodecPassThrough {
		return samples
	}
	return samples * 2
}

// applyFadeIn ramps the gain of chunk linearly from the current position in
// the fade window (bytesSoFar out of fadeBytes total) toward 1.0 at the end
// of the window. For µ-law the ramp targets the neutral byte 0xFF; for
// linear PCM it targets signed zero. Returns the processed chunk and the
// number of bytes it advanced bytesSoFar by.
func applyFadeIn(chunk []byte, bytesSoFar, fadeBytes int, muLaw bool) ([]byte, int) {
	remaining := fadeBytes - bytesSoFar
	if remaining <= 0 {
		return chunk, len(chunk)
	}

	out := make([]byte, len(chunk))
	copy(out, chunk)

	if muLaw {
		n := len(out)
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			gain := float64(bytesSoFar+i) / float64(fadeBytes)
			out[i] = rampMuLawByte(out[i], gain)
		}
		return out, len(chunk)
	}

	// Linear PCM: process whole 16-bit samples only, within the remaining
	// fade window.
	n := len(out)
	if n > remaining {
		n = remaining
	}
	n -= n % 2
	for i := 0; i+1 < n; i += 2 {
		gain := float64(bytesSoFar+i) / float64(fadeBytes)
		sample := int16(out[i]) | int16(out[i+1])<<8
		ramped := int16(float64(sample) * gain)
		out[i] = byte(ramped)
		out[i+1] = byte(ramped >> 8)
	}
	return out, len(chunk)
}

// rampMuLawByte blends a µ-law byte toward the neutral silence byte (0xFF)
// by (1-gain), approximating a linear gain ramp in the compressed domain.
func rampMuLawByte(b byte, gain float64) byte {
	if gain >= 1.0 {
		return b
	}
	if gain < 0 {
		gain = 0
	}
	delta := float64(int(muLawNeutral) - int(b))
	ramped := float64(b) + delta*(1-gain)
	if ramped < 0 {
		ramped = 0
	}
	if ramped > 255 {
		ramped = 255
	}
	return byte(ramped)
}

// decimate performs naive Mth-sample decimation on 16-bit mono PCM,
// discarding samples rather than filtering, per the spec's "optional
// resampling" contract.
func decimate(pcm []byte, m int) []byte {
	if m <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	keep := (samples + m - 1) / m
	out := make([]byte, 0, keep*2)
	for i := 0; i < samples; i += m {
		out = append(out, pcm[i*2], pcm[i*2+1])
	}
	return out
}

// decodeMP3Stream bridges audioCh (raw MP3 bytes from the backend) through a
// go-mp3 decoder, buffering at least mp3MinBuffer bytes before the decoder
// is allowed to start consuming, and returns a channel of decoded 16-bit PCM
// chunks.
func (c *Client) decodeMP3Stream(ctx context.Context, audioCh <-chan []byte) (<-chan []byte, error) {
	reader := &channelReader{ch: audioCh, minBuffer: mp3MinBuffer}
	decoder, err := mp3.NewDecoder(reader)
	if err != nil {
		return nil, fmt.Errorf("ttsclient: mp3 decoder: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		buf := make([]byte, 4096)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			n, err := decoder.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// channelReader adapts a <-chan []byte of raw encoded bytes to an io.Reader,
// buffering at least minBuffer bytes before satisfying the first Read so
// that a frame-based decoder never sees a partial frame at stream start.
type channelReader struct {
	ch        <-chan []byte
	buf       bytes.Buffer
	minBuffer int
	primed    bool
	closed    bool
}

func (r *channelReader) fill(min int) {
	for !r.closed && r.buf.Len() < min {
		chunk, ok := <-r.ch
		if !ok {
			r.closed = true
			return
		}
		r.buf.Write(chunk)
	}
}

func (r *channelReader) Read(p []byte) (int, error) {
	if !r.primed {
		r.fill(r.minBuffer)
		r.primed = true
	}
	if r.buf.Len() == 0 {
		if r.closed {
			return 0, io.EOF
		}
		r.fill(1)
		if r.buf.Len() == 0 {
			return 0, io.EOF
		}
	}
	return r.buf.Read(p)
}
