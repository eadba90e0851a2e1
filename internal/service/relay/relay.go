package relay

import (
	"context"
	"errors"
	"time"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/registry"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"go.uber.org/zap"
)

var (
	ErrChannelNotFound     = errors.New("relay: channel not found")
	ErrPermissionDenied    = errors.New("relay: sender is not in channel")
	ErrEmptyMessage        = errors.New("relay: message content missing")
	ErrNoRecipients        = errors.New("relay: no other members in the group")
	ErrReceiverUnavailable = errors.New("relay: receiver is not connected")
	ErrNotGroupChannel     = errors.New("relay: not a group channel")
)

type (
	// ChannelValidator gates every relay operation on link liveness.
	ChannelValidator interface {
		IsValid(ctx context.Context, channelID string) (bool, error)
	}

	// KeyStore persists KeyExchangeRecords keyed by (channel, user).
	KeyStore interface {
		Upsert(ctx context.Context, record *model.KeyExchangeRecord) error
		Get(ctx context.Context, channel, user string) (*model.KeyExchangeRecord, error)
	}

	// Relay routes encrypted envelopes from a sender to the correct
	// recipient transport(s) given the channel mode. Payloads are forwarded
	// verbatim; nothing is persisted.
	Relay struct {
		registry  *registry.Registry
		validator ChannelValidator
		keys      KeyStore
	}

	// DeliveryResult reports one accepted envelope. DeliveredTo is only
	// meaningful for group channels.
	DeliveryResult struct {
		ID          int64
		Timestamp   int64
		Group       bool
		DeliveredTo int
	}
)

func New(reg *registry.Registry, validator ChannelValidator, keys KeyStore) *Relay {
	return &Relay{
		registry:  reg,
		validator: validator,
		keys:      keys,
	}
}

// SendMessage validates the envelope and forwards it to every recipient the
// channel mode implies. Delivery is fire-and-forget: a stale handle for one
// group member does not fail delivery to the others.
func (r *Relay) SendMessage(ctx context.Context, req *model.MessageRequest) (*DeliveryResult, error) {
	if !req.HasContent() {
		return nil, ErrEmptyMessage
	}

	valid, err := r.validator.IsValid(ctx, req.Channel)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrChannelNotFound
	}

	if !r.registry.IsMember(req.Sender, req.Channel) {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UnixMilli()
	envelope := &model.ChatMessage{
		Channel:   req.Channel,
		Sender:    req.Sender,
		Message:   req.Message,
		ID:        now,
		Timestamp: now,
		Image:     req.Image,
		Audio:     req.Audio,
		File:      req.File,
	}

	if r.registry.ModeOf(req.Channel) == model.ModeGroup {
		return r.sendGroup(envelope)
	}
	return r.sendPrivate(envelope)
}

func (r *Relay) sendGroup(envelope *model.ChatMessage) (*DeliveryResult, error) {
	receivers := r.registry.OtherMembers(envelope.Channel, envelope.Sender)
	if len(receivers) == 0 {
		return nil, ErrNoRecipients
	}

	delivered := 0
	for _, receiverID := range receivers {
		conn, ok := r.registry.Lookup(receiverID, envelope.Channel)
		if !ok {
			continue
		}
		if err := conn.Emit(model.EventChatMessage, envelope); err != nil {
			log.Debug("group delivery failed", zap.String("receiver", receiverID), zap.Error(err))
			continue
		}
		delivered++
	}

	return &DeliveryResult{
		ID:          envelope.ID,
		Timestamp:   envelope.Timestamp,
		Group:       true,
		DeliveredTo: delivered,
	}, nil
}

func (r *Relay) sendPrivate(envelope *model.ChatMessage) (*DeliveryResult, error) {
	receivers := r.registry.OtherMembers(envelope.Channel, envelope.Sender)
	if len(receivers) == 0 {
		return nil, ErrReceiverUnavailable
	}

	conn, ok := r.registry.Lookup(receivers[0], envelope.Channel)
	if !ok {
		return nil, ErrReceiverUnavailable
	}
	if err := conn.Emit(model.EventChatMessage, envelope); err != nil {
		return nil, ErrReceiverUnavailable
	}

	return &DeliveryResult{
		ID:        envelope.ID,
		Timestamp: envelope.Timestamp,
	}, nil
}

// ValidateChannel exposes the validator gate to read-only query surfaces
// that do not route messages.
func (r *Relay) ValidateChannel(ctx context.Context, channel string) (bool, error) {
	return r.validator.IsValid(ctx, channel)
}

// SharePublicKey writes the sender's key material through to the key store.
// Last write wins; dedup is not enforced.
func (r *Relay) SharePublicKey(ctx context.Context, record *model.KeyExchangeRecord) error {
	valid, err := r.validator.IsValid(ctx, record.Channel)
	if err != nil {
		return err
	}
	if !valid {
		return ErrChannelNotFound
	}

	return r.keys.Upsert(ctx, record)
}

// GetPublicKey returns the peer's key material for a private channel: the
// record of the first member that is not userID. Fields are null when the
// peer has not shared yet.
func (r *Relay) GetPublicKey(ctx context.Context, channel, userID string) (*model.PublicKeyResponse, error) {
	valid, err := r.validator.IsValid(ctx, channel)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrChannelNotFound
	}

	empty := &model.PublicKeyResponse{}
	receivers := r.registry.OtherMembers(channel, userID)
	if len(receivers) == 0 {
		return empty, nil
	}

	record, err := r.keys.Get(ctx, channel, receivers[0])
	if err != nil {
		return nil, err
	}
	if record == nil {
		return empty, nil
	}

	return &model.PublicKeyResponse{
		PublicKey: &record.PublicKey,
		AESKey:    &record.AESKey,
	}, nil
}

// GetGroupPublicKeys returns key material of every other member of a group
// channel, keyed by member id. Members that have not shared yet map to null
// fields.
func (r *Relay) GetGroupPublicKeys(ctx context.Context, channel, userID string) (map[string]*model.PublicKeyResponse, []string, error) {
	valid, err := r.validator.IsValid(ctx, channel)
	if err != nil {
		return nil, nil, err
	}
	if !valid {
		return nil, nil, ErrChannelNotFound
	}

	if r.registry.ModeOf(channel) != model.ModeGroup {
		return nil, nil, ErrNotGroupChannel
	}

	members := r.registry.OtherMembers(channel, userID)
	publicKeys := make(map[string]*model.PublicKeyResponse, len(members))
	for _, memberID := range members {
		record, err := r.keys.Get(ctx, channel, memberID)
		if err != nil {
			return nil, nil, err
		}
		if record == nil {
			publicKeys[memberID] = &model.PublicKeyResponse{}
			continue
		}
		publicKeys[memberID] = &model.PublicKeyResponse{
			PublicKey: &record.PublicKey,
			AESKey:    &record.AESKey,
		}
	}

	return publicKeys, members, nil
}
