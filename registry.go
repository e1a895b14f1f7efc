package udpcast

import (
	"net"

	"github.com/pkg/errors"

	"github.com/outofforest/udpcast/wire"
)

// MaxClients is the capacity of the participant registry.
const MaxClients = 1024

var (
	// ErrRegistryFull is returned when no free slot is left for a new participant.
	ErrRegistryFull = errors.New("participant registry is full")

	// ErrPointToPointOccupied is returned when second receiver tries to join point-to-point session.
	ErrPointToPointOccupied = errors.New("point-to-point session already has a receiver")
)

// Participant is the receiver taking part in the session.
type Participant struct {
	Slot         int
	Address      *net.UDPAddr
	Capabilities wire.Capabilities
	RecvBuffer   uint32
}

type participantSlot struct {
	Participant

	valid bool
}

// Registry stores receivers connected to the session.
// It is not synchronized, all the operations must be called from the same goroutine.
type Registry struct {
	slots []participantSlot
	count int
}

// NewRegistry creates new registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make([]participantSlot, MaxClients),
	}
}

// Add registers participant and returns its slot.
// If the address is already registered, its slot is reused.
func (r *Registry) Add(
	addr *net.UDPAddr,
	capabilities wire.Capabilities,
	recvBuffer uint32,
	pointToPoint bool,
) (int, error) {
	if slot, exists := r.Lookup(addr); exists {
		r.slots[slot].Capabilities = capabilities
		r.slots[slot].RecvBuffer = recvBuffer
		return slot, nil
	}

	if pointToPoint && r.count > 0 {
		return 0, errors.WithStack(ErrPointToPointOccupied)
	}

	for i := range r.slots {
		if r.slots[i].valid {
			continue
		}

		r.slots[i] = participantSlot{
			Participant: Participant{
				Slot:         i,
				Address:      cloneAddr(addr),
				Capabilities: capabilities,
				RecvBuffer:   recvBuffer,
			},
			valid: true,
		}
		r.count++
		return i, nil
	}

	return 0, errors.WithStack(ErrRegistryFull)
}

// Lookup returns slot of the participant using the address.
func (r *Registry) Lookup(addr *net.UDPAddr) (int, bool) {
	for i := range r.slots {
		if r.slots[i].valid && sameAddr(r.slots[i].Address, addr) {
			return i, true
		}
	}
	return 0, false
}

// Remove invalidates slot.
func (r *Registry) Remove(slot int) {
	if slot < 0 || slot >= len(r.slots) || !r.slots[slot].valid {
		return
	}
	r.slots[slot] = participantSlot{}
	r.count--
}

// Count returns number of valid participants.
func (r *Registry) Count() int {
	return r.count
}

// ForEach calls fn for each valid participant in slot order.
func (r *Registry) ForEach(fn func(p Participant)) {
	for i := range r.slots {
		if r.slots[i].valid {
			fn(r.slots[i].Participant)
		}
	}
}

// Participants returns copy of valid participants in slot order.
func (r *Registry) Participants() []Participant {
	participants := make([]Participant, 0, r.count)
	r.ForEach(func(p Participant) {
		participants = append(participants, p)
	})
	return participants
}

// Clear removes all the participants.
func (r *Registry) Clear() {
	for i := range r.slots {
		r.Remove(i)
	}
}

func sameAddr(a1, a2 *net.UDPAddr) bool {
	return a1.Port == a2.Port && a1.IP.Equal(a2.IP)
}

func cloneAddr(addr *net.UDPAddr) *net.UDPAddr {
	if addr == nil {
		return &net.UDPAddr{}
	}
	return &net.UDPAddr{
		IP:   append(net.IP(nil), addr.IP...),
		Port: addr.Port,
		Zone: addr.Zone,
	}
}
