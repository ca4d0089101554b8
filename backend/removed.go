package backend

import (
	"bytes"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

type slotRef struct {
	addr common.Address
	slot common.Hash
}

// removedSet lists the accounts and slots an overlay deleted. The overlay
// trie cannot tell a deleted entry from one it never held, so without this
// the remote value would show through again after a commit.
//
// A set is never modified once a checkpoint refers to it.
type removedSet struct {
	accounts map[common.Address]struct{}
	slots    map[slotRef]struct{}
	digest   common.Hash
}

func (r *removedSet) account(addr common.Address) bool {
	if r == nil {
		return false
	}
	_, ok := r.accounts[addr]
	return ok
}

// slot reports whether the slot was cleared, either on its own or with its
// account.
func (r *removedSet) slot(addr common.Address, slot common.Hash) bool {
	if r == nil {
		return false
	}
	if _, ok := r.accounts[addr]; ok {
		return true
	}
	_, ok := r.slots[slotRef{addr: addr, slot: slot}]
	return ok
}

// extend returns a set holding r plus the given entries. r itself is
// returned when nothing is new, so an unchanged overlay keeps its root.
func (r *removedSet) extend(accounts []common.Address, slots []slotRef) *removedSet {
	accounts = slices.DeleteFunc(accounts, r.account)
	slots = slices.DeleteFunc(slots, func(s slotRef) bool { return r.slot(s.addr, s.slot) })
	if len(accounts) == 0 && len(slots) == 0 {
		return r
	}

	next := &removedSet{
		accounts: make(map[common.Address]struct{}),
		slots:    make(map[slotRef]struct{}),
	}
	if r != nil {
		for addr := range r.accounts {
			next.accounts[addr] = struct{}{}
		}
		for s := range r.slots {
			next.slots[s] = struct{}{}
		}
		next.digest = r.digest
	}

	slices.SortFunc(accounts, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	slices.SortFunc(slots, func(a, b slotRef) int {
		if c := bytes.Compare(a.addr[:], b.addr[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.slot[:], b.slot[:])
	})
	enc := [][]byte{next.digest.Bytes()}
	for _, addr := range accounts {
		next.accounts[addr] = struct{}{}
		enc = append(enc, addr.Bytes())
	}
	for _, s := range slots {
		next.slots[s] = struct{}{}
		enc = append(enc, s.addr.Bytes(), s.slot.Bytes())
	}
	next.digest = crypto.Keccak256Hash(enc...)
	return next
}

// servedSet records every existing account and non-zero slot the overlay
// reader handed to the live state since it was opened. Those are the only
// entries a commit can delete.
type servedSet struct {
	mu       sync.Mutex
	accounts map[common.Address]struct{}
	slots    map[slotRef]struct{}
}

func newServedSet() *servedSet {
	return &servedSet{
		accounts: make(map[common.Address]struct{}),
		slots:    make(map[slotRef]struct{}),
	}
}

func (s *servedSet) addAccount(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = struct{}{}
}

func (s *servedSet) addSlot(addr common.Address, slot common.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotRef{addr: addr, slot: slot}] = struct{}{}
}

func (s *servedSet) entries() ([]common.Address, []slotRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := make([]common.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		accounts = append(accounts, addr)
	}
	slots := make([]slotRef, 0, len(s.slots))
	for ref := range s.slots {
		slots = append(slots, ref)
	}
	return accounts, slots
}
