package model

// Capability is a role a principal may hold.
type Capability string

const (
	CapAdmin           Capability = "ADMIN"
	CapRewardDepositor Capability = "REWARD_DEPOSITOR"
)

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return c == CapAdmin || c == CapRewardDepositor
}
