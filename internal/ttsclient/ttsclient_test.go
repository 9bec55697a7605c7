package ttsclient

import (
	"context"
	"errors"
	"testing"
	"time"

	ttsmock "github.com/voxrelay/dialogcore/pkg/provider/tts/mock"
	"github.com/voxrelay/dialogcore/pkg/types"
)

func drainEvents(t *testing.T, events <-chan Event, timeout time.Duration) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("timed out draining events")
		}
	}
}

func TestClient_SynthesizeStreaming_PassThrough(t *testing.T) {
	provider := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
	}
	c := New(provider, WithCodec(CodecPassThrough, 8000))
	c.SetVoice(types.VoiceProfile{ID: "v1"})

	events, err := c.SynthesizeStreaming(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("SynthesizeStreaming: %v", err)
	}

	got := drainEvents(t, events, time.Second)
	if got[0].Type != EventSynthesisStarted {
		t.Fatalf("expected first event EventSynthesisStarted, got %v", got[0].Type)
	}
	last := got[len(got)-1]
	if last.Type != EventAudioDone {
		t.Fatalf("expected last event EventAudioDone, got %v", last.Type)
	}
	if last.TotalBytes != 8 {
		t.Errorf("expected total bytes 8, got %d", last.TotalBytes)
	}

	requestID := got[0].RequestID
	for _, e := range got {
		if e.RequestID != requestID {
			t.Errorf("expected consistent request ID, got %q vs %q", e.RequestID, requestID)
		}
	}
}

func TestClient_SynthesizeStreaming_ProviderError(t *testing.T) {
	provider := &ttsmock.Provider{SynthesizeErr: errors.New("backend down")}
	c := New(provider)

	_, err := c.SynthesizeStreaming(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_Cancel_EmitsSynthesisCancelled(t *testing.T) {
	chunkCh := make(chan []byte)
	provider := &blockingProvider{ch: chunkCh}
	c := New(provider, WithCodec(CodecPassThrough, 8000))

	events, err := c.SynthesizeStreaming(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SynthesizeStreaming: %v", err)
	}

	started := <-events
	if started.Type != EventSynthesisStarted {
		t.Fatalf("expected EventSynthesisStarted, got %v", started.Type)
	}

	c.Cancel(started.RequestID)
	close(chunkCh)

	got := drainEvents(t, events, time.Second)
	foundCancelled := false
	for _, e := range got {
		if e.Type == EventSynthesisCancelled {
			foundCancelled = true
		}
		if e.Type == EventAudioDone {
			t.Error("did not expect EventAudioDone after cancellation")
		}
	}
	if !foundCancelled {
		t.Error("expected EventSynthesisCancelled")
	}
}

func TestDecimate(t *testing.T) {
	// 8 mono samples (16 bytes), decimate by 2 should keep every other sample.
	pcm := make([]byte, 16)
	for i := 0; i < 8; i++ {
		pcm[i*2] = byte(i)
		pcm[i*2+1] = 0
	}
	out := decimate(pcm, 2)
	if len(out) != 8 {
		t.Fatalf("expected 4 samples (8 bytes), got %d bytes", len(out))
	}
	if out[0] != 0 || out[2] != 2 || out[4] != 4 || out[6] != 6 {
		t.Errorf("unexpected decimated samples: %v", out)
	}
}

func TestDecimate_NoOpBelowFactorTwo(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	out := decimate(pcm, 1)
	if string(out) != string(pcm) {
		t.Error("expected no-op decimation for factor <= 1")
	}
}

func TestApplyFadeIn_LinearPCM_RampsTowardZero(t *testing.T) {
	// A constant-amplitude sample; the first sample (bytesSoFar=0) should be
	// ramped to ~0 gain, fully attenuated.
	sample := int16(10000)
	chunk := []byte{byte(sample), byte(sample >> 8)}
	out, consumed := applyFadeIn(chunk, 0, 100, false)
	if consumed != len(chunk) {
		t.Fatalf("expected consumed %d, got %d", len(chunk), consumed)
	}
	got := int16(out[0]) | int16(out[1])<<8
	if got != 0 {
		t.Errorf("expected near-zero amplitude at start of fade, got %d", got)
	}
}

func TestApplyFadeIn_PastWindowIsNoop(t *testing.T) {
	chunk := []byte{1, 2, 3, 4}
	out, consumed := applyFadeIn(chunk, 200, 100, false)
	if consumed != len(chunk) {
		t.Fatalf("expected consumed %d, got %d", len(chunk), consumed)
	}
	if string(out) != string(chunk) {
		t.Error("expected no modification once past the fade window")
	}
}

func TestApplyFadeIn_MuLawRampsTowardNeutral(t *testing.T) {
	chunk := []byte{0x00}
	out, _ := applyFadeIn(chunk, 0, 10, true)
	if out[0] != 0xFF {
		t.Errorf("expected byte ramped fully to neutral 0xFF at gain 0, got %#x", out[0])
	}
}

func TestChannelReader_BuffersBeforeFirstRead(t *testing.T) {
	ch := make(chan []byte, 4)
	ch <- make([]byte, 2000)
	ch <- make([]byte, 2000)
	ch <- make([]byte, 2000)
	close(ch)

	r := &channelReader{ch: ch, minBuffer: 4096}
	buf := make([]byte, 8192)
	n, err := r.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n < 4096 {
		t.Errorf("expected at least minBuffer bytes primed before first read, got %d", n)
	}
}

func TestChannelReader_EOFOnEmptyClosedChannel(t *testing.T) {
	ch := make(chan []byte)
	close(ch)
	r := &channelReader{ch: ch, minBuffer: 100}
	buf := make([]byte, 10)
	_, err := r.Read(buf)
	if err == nil {
		t.Fatal("expected EOF on empty closed channel")
	}
}

// blockingProvider is a tts.Provider that forwards whatever is sent on ch
// until ch is closed or the synthesis context is cancelled, used to exercise
// cancellation mid-stream.
type blockingProvider struct {
	ch <-chan []byte
}

func (p *blockingProvider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-p.ch:
				if !ok {
					return
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *blockingProvider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return nil, nil
}

func (p *blockingProvider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	return nil, nil
}
