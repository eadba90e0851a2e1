package call

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// defaultICEServers mirrors the STUN set the browser client ships with.
var defaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
	{URLs: []string{"stun:stun2.l.google.com:19302"}},
}

type (
	// Session is one call leg: a single peer connection progressing
	// through new -> connecting -> connected -> disconnected/failed/closed.
	Session struct {
		mgr  *Manager
		mode Mode

		mu        sync.Mutex
		pc        *webrtc.PeerConnection
		release   func()
		closed    bool
		remoteSet bool
		pending   []webrtc.ICECandidateInit
		state     webrtc.PeerConnectionState
		stateSubs []func(webrtc.PeerConnectionState)
	}
)

func newSession(mgr *Manager, mode Mode) (*Session, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: defaultICEServers})
	if err != nil {
		return nil, err
	}

	s := &Session{
		mgr:   mgr,
		mode:  mode,
		pc:    pc,
		state: pc.ConnectionState(),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", zap.String("state", state.String()))
		s.mu.Lock()
		s.state = state
		subs := make([]func(webrtc.PeerConnectionState), len(s.stateSubs))
		copy(subs, s.stateSubs)
		s.mu.Unlock()
		for _, fn := range subs {
			fn(state)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		raw, err := json.Marshal(init)
		if err != nil {
			log.Error("marshal candidate failed", zap.Error(err))
			return
		}
		s.signal(&model.SignalDescription{
			Type:      model.SignalCandidate,
			Candidate: raw,
		})
	})

	return s, nil
}

// Mode reports whether the call carries video, inferred from the offer.
func (s *Session) Mode() Mode {
	return s.mode
}

// State returns the last observed peer connection state.
func (s *Session) State() webrtc.PeerConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnStateChange registers a callback for connection state transitions.
// Failures surface here as a state change, never as an error return.
func (s *Session) OnStateChange(fn func(webrtc.PeerConnectionState)) {
	s.mu.Lock()
	s.stateSubs = append(s.stateSubs, fn)
	s.mu.Unlock()
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) sendOffer(ctx context.Context, withVideo bool) error {
	if err := s.attachMedia(ctx, withVideo); err != nil {
		return err
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	return s.signalErr(&model.SignalDescription{
		Type: model.SignalOffer,
		SDP:  offer.SDP,
	})
}

func (s *Session) sendAnswer(ctx context.Context, desc *model.SignalDescription, withVideo bool) error {
	if err := s.attachMedia(ctx, withVideo); err != nil {
		return err
	}

	if err := s.setRemote(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  desc.SDP,
	}); err != nil {
		return err
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	return s.signalErr(&model.SignalDescription{
		Type: model.SignalAnswer,
		SDP:  answer.SDP,
	})
}

func (s *Session) acceptAnswer(desc *model.SignalDescription) error {
	return s.setRemote(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  desc.SDP,
	})
}

// setRemote applies the remote description and flushes any candidates that
// arrived before it was set.
func (s *Session) setRemote(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, candidate := range pending {
		if err := s.pc.AddICECandidate(candidate); err != nil {
			log.Error("add queued candidate failed", zap.Error(err))
		}
	}
	return nil
}

// addCandidate applies a trickle ICE candidate, queueing it when the remote
// description has not been set yet.
func (s *Session) addCandidate(raw json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, init)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.pc.AddICECandidate(init)
}

// attachMedia acquires local media and adds the tracks. When acquisition
// resolves after the session has already been torn down, the media is
// released immediately and never attached.
func (s *Session) attachMedia(ctx context.Context, withVideo bool) error {
	tracks, release, err := s.mgr.media.Acquire(ctx, withVideo)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if release != nil {
			release()
		}
		return nil
	}
	s.release = release
	s.mu.Unlock()

	if len(tracks) == 0 {
		return addRecvOnlyTransceivers(s.pc, withVideo)
	}
	for _, track := range tracks {
		if _, err := s.pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// Hangup tears down the session: local media is released exactly once, the
// peer connection is closed and the manager slot is cleared. Idempotent.
func (s *Session) Hangup() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	release := s.release
	s.release = nil
	s.mu.Unlock()

	if release != nil {
		release()
	}
	if err := s.pc.Close(); err != nil {
		log.Debug("peer connection close", zap.Error(err))
	}
	s.mgr.clearActive(s)
}

func (s *Session) signal(desc *model.SignalDescription) {
	if err := s.signalErr(desc); err != nil {
		log.Error("signal send failed", zap.String("type", desc.Type), zap.Error(err))
	}
}

func (s *Session) signalErr(desc *model.SignalDescription) error {
	return s.mgr.sig.Signal(&model.SessionSignal{
		Description: *desc,
		Sender:      s.mgr.selfID,
		ChannelID:   s.mgr.channelID,
	})
}

// addRecvOnlyTransceivers keeps offers valid when no capture hardware is
// attached: recvonly m-lines still carry ICE credentials.
func addRecvOnlyTransceivers(pc *webrtc.PeerConnection, withVideo bool) error {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}
	if withVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}
