package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrChannelNotFound  = errors.New("presence: channel not found")
	ErrCapacityExceeded = errors.New("presence: channel limit reached")
)

type (
	// ChannelValidator gates joins on link liveness.
	ChannelValidator interface {
		IsValid(ctx context.Context, channelID string) (bool, error)
	}

	// KeyCleaner removes key-exchange records once a channel empties.
	// May be nil, in which case records are retained.
	KeyCleaner interface {
		DeleteByChannel(ctx context.Context, channel string) error
	}

	// session is what a connection told us at join time; connections are
	// never mutated, the arena is the single source of (user, channel).
	session struct {
		userID    string
		channelID string
	}

	// Service drives the per-connection lifecycle: join, capacity
	// enforcement, membership broadcasts and departure notifications.
	Service struct {
		registry  *registry.Registry
		validator ChannelValidator
		keys      KeyCleaner

		mu       sync.Mutex
		sessions map[string]session
	}
)

func New(reg *registry.Registry, validator ChannelValidator, keys KeyCleaner) *Service {
	return &Service{
		registry:  reg,
		validator: validator,
		keys:      keys,
		sessions:  make(map[string]session),
	}
}

// JoinPrivate handles a chat-join. A full channel gets a limit-reached
// signal and a forced close; the join is rejected, not queued.
func (s *Service) JoinPrivate(ctx context.Context, connID string, conn registry.Conn, p *model.ChatJoinPayload) error {
	valid, err := s.validator.IsValid(ctx, p.ChannelID)
	if err != nil {
		return err
	}
	if !valid {
		return ErrChannelNotFound
	}

	// Capacity is enforced inside the registry: check and insert must be
	// one critical section since every connection joins from its own
	// read-loop goroutine.
	mode, ok := s.registry.RegisterIfCapacity(p.UserID, p.ChannelID, conn)
	if !ok {
		s.rejectFull(conn, p.ChannelID)
		return ErrCapacityExceeded
	}
	s.track(connID, p.UserID, p.ChannelID)
	log.Info("chat-join", zap.String("channel", p.ChannelID), zap.String("user", p.UserID))

	// A chat-join into an already-upgraded channel behaves like a group
	// join for notification purposes.
	if mode == model.ModeGroup {
		s.notifyMemberJoin(p.ChannelID, p.UserID, "", p.PublicKey)
		s.broadcastMemberList(p.ChannelID)
		return nil
	}

	others := s.registry.OtherMembers(p.ChannelID, p.UserID)
	if len(others) == 1 {
		if peer, ok := s.registry.Lookup(others[0], p.ChannelID); ok {
			s.emit(peer, model.EventAliceJoin, &model.AliceJoinPayload{PublicKey: p.PublicKey})
		}
	}
	return nil
}

// JoinGroup handles a group-join. Joining a private channel upgrades it to
// group mode; the transition is broadcast to existing members.
func (s *Service) JoinGroup(ctx context.Context, connID string, conn registry.Conn, p *model.GroupJoinPayload) error {
	valid, err := s.validator.IsValid(ctx, p.ChannelID)
	if err != nil {
		return err
	}
	if !valid {
		return ErrChannelNotFound
	}

	// Mode upgrade, capacity check and insert are one registry critical
	// section: concurrent group joins see exactly one transition and the
	// capacity can never overshoot.
	changed, ok := s.registry.RegisterGroup(p.UserID, p.ChannelID, conn)
	if !ok {
		s.rejectFull(conn, p.ChannelID)
		return ErrCapacityExceeded
	}
	s.track(connID, p.UserID, p.ChannelID)
	log.Info("group-join",
		zap.String("channel", p.ChannelID),
		zap.String("user", p.UserID),
		zap.String("name", p.UserName))

	if changed {
		s.notifyModeChanged(p.ChannelID, p.UserID, model.ModeGroup)
	}
	s.notifyMemberJoin(p.ChannelID, p.UserID, p.UserName, p.PublicKey)
	s.broadcastMemberList(p.ChannelID)
	return nil
}

// Disconnect is triggered by transport close. Unknown connections no-op.
func (s *Service) Disconnect(ctx context.Context, connID string) {
	s.mu.Lock()
	sess, ok := s.sessions[connID]
	delete(s.sessions, connID)
	s.mu.Unlock()
	if !ok {
		return
	}

	// Mode is read before removal: it decides the notification shape and
	// unregistering the last member forgets it.
	mode := s.registry.ModeOf(sess.channelID)
	s.registry.Unregister(sess.userID, sess.channelID)
	log.Info("disconnect", zap.String("channel", sess.channelID), zap.String("user", sess.userID))

	if mode == model.ModeGroup {
		for _, memberID := range s.registry.MembersOf(sess.channelID) {
			if conn, ok := s.registry.Lookup(memberID, sess.channelID); ok {
				s.emit(conn, model.EventMemberLeave, &model.MemberLeavePayload{UserID: sess.userID})
			}
		}
		if s.registry.CountOf(sess.channelID) > 0 {
			s.broadcastMemberList(sess.channelID)
		}
	} else {
		others := s.registry.MembersOf(sess.channelID)
		if len(others) > 0 {
			if conn, ok := s.registry.Lookup(others[0], sess.channelID); ok {
				s.emit(conn, model.EventAliceDisconnect, nil)
			}
		}
	}

	if s.keys != nil && s.registry.CountOf(sess.channelID) == 0 {
		if err := s.keys.DeleteByChannel(ctx, sess.channelID); err != nil {
			log.Error("key cleanup failed", zap.String("channel", sess.channelID), zap.Error(err))
		}
	}
}

// Received forwards a delivery acknowledgment back to the original sender.
// Pure UI feedback, no protocol state changes.
func (s *Service) Received(p *model.ReceivedPayload) {
	if conn, ok := s.registry.Lookup(p.Sender, p.Channel); ok {
		s.emit(conn, model.EventDelivered, p.ID)
	}
}

// ForwardSignal relays a WebRTC signaling payload to every other member of
// the channel. The server holds no call state.
func (s *Service) ForwardSignal(sig *model.SessionSignal) {
	for _, memberID := range s.registry.OtherMembers(sig.ChannelID, sig.Sender) {
		if conn, ok := s.registry.Lookup(memberID, sig.ChannelID); ok {
			s.emit(conn, model.EventWebRTCSession, sig)
		}
	}
}

func (s *Service) track(connID, userID, channelID string) {
	s.mu.Lock()
	s.sessions[connID] = session{userID: userID, channelID: channelID}
	s.mu.Unlock()
}

func (s *Service) rejectFull(conn registry.Conn, channelID string) {
	log.Info("limit reached", zap.String("channel", channelID))
	s.emit(conn, model.EventLimitReached, nil)
	conn.Close()
}

func (s *Service) notifyMemberJoin(channelID, userID, userName, publicKey string) {
	payload := &model.MemberJoinPayload{
		OderID:    userID,
		OdernName: userName,
		PublicKey: publicKey,
	}
	for _, memberID := range s.registry.OtherMembers(channelID, userID) {
		if conn, ok := s.registry.Lookup(memberID, channelID); ok {
			s.emit(conn, model.EventMemberJoin, payload)
		}
	}
}

// notifyModeChanged tells the members that were already in the channel;
// the joiner that caused the transition is excluded.
func (s *Service) notifyModeChanged(channelID, joinerID string, mode model.ChannelMode) {
	payload := &model.ModeChangedPayload{Mode: mode}
	for _, memberID := range s.registry.OtherMembers(channelID, joinerID) {
		if conn, ok := s.registry.Lookup(memberID, channelID); ok {
			s.emit(conn, model.EventModeChanged, payload)
		}
	}
}

func (s *Service) broadcastMemberList(channelID string) {
	members := s.registry.MembersOf(channelID)
	payload := &model.MemberListPayload{Members: members, Count: len(members)}
	for _, memberID := range members {
		if conn, ok := s.registry.Lookup(memberID, channelID); ok {
			s.emit(conn, model.EventMemberListUpdate, payload)
		}
	}
}

func (s *Service) emit(conn registry.Conn, kind model.EventKind, data any) {
	if err := conn.Emit(kind, data); err != nil {
		log.Debug("emit failed", zap.String("event", string(kind)), zap.Error(err))
	}
}
