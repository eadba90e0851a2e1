// Package call drives the client side of an audio/video call: one peer
// connection per active call, trickle ICE through the signaling relay, and
// symmetric acquire/release of local media. The server is never involved
// beyond store-and-forward of the signaling payloads.
package call

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

var (
	ErrCallActive          = errors.New("call: a call is already active")
	ErrParticipantMismatch = errors.New("call: channel must have exactly two members")
)

// Mode is inferred from the session description content, never negotiated
// as a separate field.
type Mode string

const (
	ModeAudio Mode = "audio"
	ModeVideo Mode = "video"
)

type (
	// Signaler forwards one signaling payload through the server relay.
	Signaler interface {
		Signal(sig *model.SessionSignal) error
	}

	// Media is the media-acquisition collaborator. Implementations return
	// local capture tracks and a release func that must be invoked exactly
	// once when the call ends.
	Media interface {
		Acquire(ctx context.Context, video bool) ([]webrtc.TrackLocal, func(), error)
	}

	// Manager owns at most one active call for this client.
	Manager struct {
		selfID    string
		channelID string
		sig       Signaler
		media     Media
		members   func(ctx context.Context) (int, error)

		mu     sync.Mutex
		active *Session
	}
)

func NewManager(selfID, channelID string, sig Signaler, media Media, members func(ctx context.Context) (int, error)) *Manager {
	return &Manager{
		selfID:    selfID,
		channelID: channelID,
		sig:       sig,
		media:     media,
		members:   members,
	}
}

// Start initiates an outbound call. It fails explicitly when a call is
// already active and rejects before any media is acquired unless the
// channel has exactly two members.
func (m *Manager) Start(ctx context.Context, withVideo bool) (*Session, error) {
	if err := m.checkParticipants(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil && !m.active.Closed() {
		m.mu.Unlock()
		return nil, ErrCallActive
	}

	mode := ModeAudio
	if withVideo {
		mode = ModeVideo
	}
	sess, err := newSession(m, mode)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.active = sess
	m.mu.Unlock()

	if err := sess.sendOffer(ctx, withVideo); err != nil {
		sess.Hangup()
		return nil, err
	}
	return sess, nil
}

// HandleSignal routes one inbound signaling payload. An offer with no
// active call creates the callee session; candidates arriving before the
// remote description is set are queued, not dropped.
func (m *Manager) HandleSignal(ctx context.Context, sig *model.SessionSignal) error {
	if sig.Sender == m.selfID || sig.ChannelID != m.channelID {
		return nil
	}

	switch sig.Description.Type {
	case model.SignalOffer:
		return m.handleOffer(ctx, sig)

	case model.SignalAnswer:
		if sess := m.Active(); sess != nil {
			return sess.acceptAnswer(&sig.Description)
		}
		log.Debug("answer with no active call, skipping")
		return nil

	case model.SignalCandidate:
		if sess := m.Active(); sess != nil {
			return sess.addCandidate(sig.Description.Candidate)
		}
		log.Debug("candidate with no active call, skipping")
		return nil

	default:
		log.Debug("unknown signal type", zap.String("type", sig.Description.Type))
		return nil
	}
}

func (m *Manager) handleOffer(ctx context.Context, sig *model.SessionSignal) error {
	if err := m.checkParticipants(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	if m.active != nil && !m.active.Closed() {
		m.mu.Unlock()
		// renegotiation is not supported; the caller must hang up first
		return ErrCallActive
	}

	mode := ModeAudio
	if ContainsVideo(sig.Description.SDP) {
		mode = ModeVideo
	}
	sess, err := newSession(m, mode)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.active = sess
	m.mu.Unlock()

	if err := sess.sendAnswer(ctx, &sig.Description, mode == ModeVideo); err != nil {
		sess.Hangup()
		return err
	}
	return nil
}

// Active returns the current session, or nil once it has been torn down.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.Closed() {
		return nil
	}
	return m.active
}

// End hangs up the active call. Idempotent.
func (m *Manager) End() {
	if sess := m.Active(); sess != nil {
		sess.Hangup()
	}
}

func (m *Manager) checkParticipants(ctx context.Context) error {
	count, err := m.members(ctx)
	if err != nil {
		return err
	}
	if count != 2 {
		return ErrParticipantMismatch
	}
	return nil
}

func (m *Manager) clearActive(sess *Session) {
	m.mu.Lock()
	if m.active == sess {
		m.active = nil
	}
	m.mu.Unlock()
}

// ContainsVideo reports whether the session description carries a video
// media section.
func ContainsVideo(sdp string) bool {
	return strings.HasPrefix(sdp, "m=video") || strings.Contains(sdp, "\nm=video")
}
