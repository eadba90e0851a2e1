package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"

	"github.com/pion/webrtc/v4"
)

// trackedMedia counts acquire/release pairing without touching hardware.
type trackedMedia struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (m *trackedMedia) Acquire(context.Context, bool) ([]webrtc.TrackLocal, func(), error) {
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return nil, func() {
		m.mu.Lock()
		m.released++
		m.mu.Unlock()
	}, nil
}

type chanSignaler struct {
	out chan *model.SessionSignal
}

func (s *chanSignaler) Signal(sig *model.SessionSignal) error {
	s.out <- sig
	return nil
}

func members(n int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) { return n, nil }
}

func TestStartRejectsWhenNotTwoMembers(t *testing.T) {
	media := &trackedMedia{}
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 16)}, media, members(3))

	if _, err := m.Start(context.Background(), false); !errors.Is(err, ErrParticipantMismatch) {
		t.Fatalf("expected ErrParticipantMismatch, got %v", err)
	}
	if media.acquired != 0 {
		t.Fatal("media must not be acquired for a rejected call")
	}

	m = NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 16)}, media, members(1))
	if _, err := m.Start(context.Background(), false); !errors.Is(err, ErrParticipantMismatch) {
		t.Fatalf("expected ErrParticipantMismatch, got %v", err)
	}
}

func TestStartRejectsSecondCall(t *testing.T) {
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, &trackedMedia{}, members(2))

	sess, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Hangup()

	if _, err := m.Start(context.Background(), false); !errors.Is(err, ErrCallActive) {
		t.Fatalf("expected ErrCallActive, got %v", err)
	}
}

func TestHangupIdempotent(t *testing.T) {
	media := &trackedMedia{}
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, media, members(2))

	sess, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}

	sess.Hangup()
	sess.Hangup()

	if media.released != 1 {
		t.Fatalf("expected exactly one release, got %d", media.released)
	}
	if m.Active() != nil {
		t.Fatal("expected no active session after hangup")
	}
}

func TestStartAllowedAfterHangup(t *testing.T) {
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, &trackedMedia{}, members(2))

	sess, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	sess.Hangup()

	sess2, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatalf("expected a new call after hangup, got %v", err)
	}
	sess2.Hangup()
}

func TestContainsVideo(t *testing.T) {
	if ContainsVideo("v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n") {
		t.Fatal("audio-only SDP must not report video")
	}
	if !ContainsVideo("v=0\r\nm=audio 9 X\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n") {
		t.Fatal("expected video m-line to be detected")
	}
}

func TestCandidateQueuedBeforeRemoteDescription(t *testing.T) {
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, &trackedMedia{}, members(2))

	sess, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Hangup()

	raw, _ := json.Marshal(map[string]any{"candidate": "candidate:1 1 udp 1 127.0.0.1 4242 typ host"})
	if err := sess.addCandidate(raw); err != nil {
		t.Fatal(err)
	}

	sess.mu.Lock()
	queued := len(sess.pending)
	sess.mu.Unlock()
	if queued != 1 {
		t.Fatalf("expected candidate to be queued, pending=%d", queued)
	}
}

func TestOfferAnswerHandshake(t *testing.T) {
	callerOut := &chanSignaler{out: make(chan *model.SessionSignal, 64)}
	calleeOut := &chanSignaler{out: make(chan *model.SessionSignal, 64)}

	caller := NewManager("u1", "c1", callerOut, &trackedMedia{}, members(2))
	callee := NewManager("u2", "c1", calleeOut, &trackedMedia{}, members(2))

	sess, err := caller.Start(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Hangup()
	if sess.Mode() != ModeVideo {
		t.Fatalf("expected video mode, got %s", sess.Mode())
	}

	offer := waitForSignal(t, callerOut.out, model.SignalOffer)
	if !ContainsVideo(offer.Description.SDP) {
		t.Fatal("expected offer SDP to carry a video section")
	}

	if err := callee.HandleSignal(context.Background(), offer); err != nil {
		t.Fatal(err)
	}
	calleeSess := callee.Active()
	if calleeSess == nil {
		t.Fatal("expected callee session created from offer")
	}
	defer calleeSess.Hangup()
	if calleeSess.Mode() != ModeVideo {
		t.Fatalf("callee must infer video from SDP, got %s", calleeSess.Mode())
	}

	answer := waitForSignal(t, calleeOut.out, model.SignalAnswer)
	if err := caller.HandleSignal(context.Background(), answer); err != nil {
		t.Fatal(err)
	}

	sess.mu.Lock()
	remoteSet := sess.remoteSet
	sess.mu.Unlock()
	if !remoteSet {
		t.Fatal("expected caller remote description set after answer")
	}
}

func TestOfferRejectedWhileCallActive(t *testing.T) {
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, &trackedMedia{}, members(2))

	sess, err := m.Start(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Hangup()

	err = m.HandleSignal(context.Background(), &model.SessionSignal{
		Description: model.SignalDescription{Type: model.SignalOffer, SDP: "v=0\r\nm=audio 9 X\r\n"},
		Sender:      "u2",
		ChannelID:   "c1",
	})
	if !errors.Is(err, ErrCallActive) {
		t.Fatalf("expected ErrCallActive, got %v", err)
	}
}

func TestSignalsFromOtherChannelsIgnored(t *testing.T) {
	m := NewManager("u1", "c1", &chanSignaler{out: make(chan *model.SessionSignal, 64)}, &trackedMedia{}, members(2))

	err := m.HandleSignal(context.Background(), &model.SessionSignal{
		Description: model.SignalDescription{Type: model.SignalOffer, SDP: "v=0"},
		Sender:      "u9",
		ChannelID:   "other",
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.Active() != nil {
		t.Fatal("signal for another channel must not create a session")
	}
}

func waitForSignal(t *testing.T, ch chan *model.SessionSignal, kind string) *model.SessionSignal {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case sig := <-ch:
			if sig.Description.Type == kind {
				return sig
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}
