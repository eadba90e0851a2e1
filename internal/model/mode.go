package model

// ChannelMode controls how many participants a channel accepts and how
// messages are routed inside it.
type ChannelMode string

const (
	// ModePrivate is the default: exactly two participants.
	ModePrivate ChannelMode = "private"
	// ModeGroup allows up to MaxGroupMembers participants.
	ModeGroup ChannelMode = "group"
)

const (
	MaxPrivateMembers = 2
	MaxGroupMembers   = 100
)

// MaxMembers returns the capacity implied by the mode.
func (m ChannelMode) MaxMembers() int {
	if m == ModeGroup {
		return MaxGroupMembers
	}
	return MaxPrivateMembers
}

// Upgrade reports the transition from m to target. A private channel may be
// upgraded to group by a group join; any other combination is a no-op.
func (m ChannelMode) Upgrade(target ChannelMode) (ChannelMode, bool) {
	if m == ModePrivate && target == ModeGroup {
		return ModeGroup, true
	}
	return m, false
}
