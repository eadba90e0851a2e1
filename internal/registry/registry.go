package registry

import (
	"sync"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
)

// Conn is the transport handle registered for a participant. The concrete
// implementation lives in the server package; tests use fakes.
type Conn interface {
	Emit(kind model.EventKind, data any) error
	Close() error
}

type (
	// Registry tracks which participants are present in which channel and
	// each channel's mode. It is owned by the composition root and passed
	// to every handler; state is guarded by a single mutex since handlers
	// run on independent connection goroutines.
	Registry struct {
		mu       sync.RWMutex
		channels map[string]map[string]Conn
		modes    map[string]model.ChannelMode
	}
)

func New() *Registry {
	return &Registry{
		channels: make(map[string]map[string]Conn),
		modes:    make(map[string]model.ChannelMode),
	}
}

// Register inserts or overwrites the participant's transport handle in the
// channel. Idempotent per participant id.
func (r *Registry) Register(userID, channelID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.registerLocked(userID, channelID, conn)
}

// RegisterIfCapacity registers the participant only while the channel has
// room under its current mode. Check and insert share one critical section:
// two concurrent joins into a channel with one free slot cannot both get
// in. Re-registering an existing participant always succeeds. Returns the
// mode observed at registration time.
func (r *Registry) RegisterIfCapacity(userID, channelID string, conn Conn) (model.ChannelMode, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := r.modeLocked(channelID)
	members := r.channels[channelID]
	if _, exists := members[userID]; !exists && len(members) >= mode.MaxMembers() {
		return mode, false
	}
	r.registerLocked(userID, channelID, conn)
	return mode, true
}

// RegisterGroup registers the participant under group mode, upgrading a
// private channel in the same critical section so concurrent group joins
// observe exactly one transition. The first return reports whether the
// mode changed, the second whether registration happened.
func (r *Registry) RegisterGroup(userID, channelID string, conn Conn) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.channels[channelID]
	if _, exists := members[userID]; !exists && len(members) >= model.MaxGroupMembers {
		return false, false
	}

	next, changed := r.modeLocked(channelID).Upgrade(model.ModeGroup)
	if changed {
		r.modes[channelID] = next
	}
	r.registerLocked(userID, channelID, conn)
	return changed, true
}

func (r *Registry) registerLocked(userID, channelID string, conn Conn) {
	members, ok := r.channels[channelID]
	if !ok {
		members = make(map[string]Conn)
		r.channels[channelID] = members
	}
	members[userID] = conn
}

// Unregister removes the participant. When the channel empties its mode is
// forgotten, so a later fresh join reverts to the private default.
func (r *Registry) Unregister(userID, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.channels[channelID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.channels, channelID)
		delete(r.modes, channelID)
	}
}

// Lookup returns the participant's transport handle, if registered.
func (r *Registry) Lookup(userID, channelID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.channels[channelID][userID]
	return conn, ok
}

// MembersOf returns the ids of all participants in the channel.
func (r *Registry) MembersOf(channelID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]string, 0, len(r.channels[channelID]))
	for id := range r.channels[channelID] {
		members = append(members, id)
	}
	return members
}

// OtherMembers returns all participant ids except excludeID. Used both for
// group broadcast and for finding the private-mode receiver.
func (r *Registry) OtherMembers(channelID, excludeID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var members []string
	for id := range r.channels[channelID] {
		if id != excludeID {
			members = append(members, id)
		}
	}
	return members
}

// IsMember reports whether the participant is registered in the channel.
func (r *Registry) IsMember(userID, channelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.channels[channelID][userID]
	return ok
}

// SetMode records the channel's mode and returns the previous one. Unknown
// channels report the private default.
func (r *Registry) SetMode(channelID string, mode model.ChannelMode) model.ChannelMode {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.modes[channelID]
	if !ok {
		prev = model.ModePrivate
	}
	r.modes[channelID] = mode
	return prev
}

// ModeOf returns the channel's mode, defaulting to private.
func (r *Registry) ModeOf(channelID string) model.ChannelMode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.modeLocked(channelID)
}

func (r *Registry) modeLocked(channelID string) model.ChannelMode {
	if mode, ok := r.modes[channelID]; ok {
		return mode
	}
	return model.ModePrivate
}

// CountOf returns the number of participants in the channel.
func (r *Registry) CountOf(channelID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.channels[channelID])
}
