package flow

import "github.com/arloliu/go-ackflow/ack"

// BufferProfile holds the firmware buffer capacities discovered on a connection.
// Zero capacities mean the profile is not discovered yet.
type BufferProfile struct {
	PlannerCapacity uint32
	CommandCapacity uint32
}

// Discovered returns if both capacities are known.
func (p BufferProfile) Discovered() bool {
	return p.PlannerCapacity > 0 && p.CommandCapacity > 0
}

// InflightTarget returns min(CommandCapacity-1, policyCap); one command slot
// always stays free. It returns 0 while the profile is undiscovered, which
// suppresses every grant.
func (p BufferProfile) InflightTarget(policyCap uint32) uint32 {
	if !p.Discovered() {
		return 0
	}

	return min(p.CommandCapacity-1, policyCap)
}

// Discover sets the capacities from the handshake ack, the one acknowledging
// line 0. It is a no-op, returning false, when the profile is already
// discovered or info is not the handshake.
//
// Right after accepting a command the firmware still counts the slot it just
// consumed as used, so it reports one less than its capacity in both buffers.
func (p *BufferProfile) Discover(info ack.Info) bool {
	if p.Discovered() || !info.IsHandshake() {
		return false
	}

	p.PlannerCapacity = info.PlannerAvail + 1
	p.CommandCapacity = info.CommandAvail + 1

	return true
}

// Reset forgets the capacities so the next handshake is discovered again.
func (p *BufferProfile) Reset() {
	*p = BufferProfile{}
}
