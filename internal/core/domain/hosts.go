package domain

import "maps"

// PrimarySlot is the KnownHosts slot of the primary controller.
const PrimarySlot = "primary"

// KnownHosts maps logical host slots to resolved addresses.
// It is owned by a single assessment run and is not safe for concurrent use.
type KnownHosts struct {
	hosts    map[string]string
	observer func(map[string]string)
}

// NewKnownHosts creates an empty host map.
func NewKnownHosts() *KnownHosts {
	return &KnownHosts{hosts: make(map[string]string)}
}

// Observe registers fn to receive a snapshot after every mutation.
func (k *KnownHosts) Observe(fn func(map[string]string)) {
	k.observer = fn
}

// Get returns the address stored in slot.
func (k *KnownHosts) Get(slot string) (string, bool) {
	addr, ok := k.hosts[slot]
	return addr, ok
}

// Set stores addr in slot.
func (k *KnownHosts) Set(slot, addr string) {
	k.hosts[slot] = addr
	k.notify()
}

// Delete removes slot.
func (k *KnownHosts) Delete(slot string) {
	if _, ok := k.hosts[slot]; !ok {
		return
	}
	delete(k.hosts, slot)
	k.notify()
}

// Snapshot returns a copy of the current mapping.
func (k *KnownHosts) Snapshot() map[string]string {
	return maps.Clone(k.hosts)
}

func (k *KnownHosts) notify() {
	if k.observer != nil {
		k.observer(k.Snapshot())
	}
}
