package bindgen

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	bgerrors "github.com/jerbob92/wazero-bindgen/errors"
)

// Ownership is who is responsible for destroying the object behind a
// handle.
type Ownership uint8

const (
	// Exclusive handles own the object, releasing destroys it.
	Exclusive Ownership = iota + 1
	// Shared handles hold a counted reference, the last release destroys.
	Shared
	// Borrowed handles never destroy, the native side owns the object.
	Borrowed
)

func (o Ownership) String() string {
	switch o {
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	case Borrowed:
		return "borrowed"
	}
	return "none"
}

func ownershipOf(t TypeRef) Ownership {
	switch t.Kind {
	case KindShared:
		return Shared
	case KindBorrowed:
		return Borrowed
	case KindExclusive:
		return Exclusive
	}
	return 0
}

// HandleID is the host visible identifier of a native object. Zero means no
// object.
type HandleID = uint64

type handleEntry struct {
	id        HandleID
	addr      uint64
	ownership Ownership
	refcount  int32
	class     *ClassType
}

// HandleInfo is a read-only view of a live handle.
type HandleInfo struct {
	ID        HandleID
	Address   uint64
	Ownership Ownership
	RefCount  int32
	Class     string
}

// Destroyer is invoked when a handle's object must be destroyed: for
// exclusive handles on release, for shared handles when the count reaches
// zero. The entry is already gone from the table when it runs.
type Destroyer func(ctx context.Context, info HandleInfo) error

type borrowKey struct {
	addr  uint64
	class string
}

// HandleTable maps handle ids to native objects. Ids are handed out in
// increasing order and never reused, so any id below next that is not in
// entries was released.
type HandleTable struct {
	logger    *zap.Logger
	next      HandleID
	entries   map[HandleID]*handleEntry
	exclusive map[uint64]HandleID
	shared    map[uint64]HandleID
	borrowed  map[borrowKey]HandleID
	destroy   Destroyer
}

func NewHandleTable(logger *zap.Logger, destroy Destroyer) *HandleTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandleTable{
		logger:    logger,
		next:      1,
		entries:   map[HandleID]*handleEntry{},
		exclusive: map[uint64]HandleID{},
		shared:    map[uint64]HandleID{},
		borrowed:  map[borrowKey]HandleID{},
		destroy:   destroy,
	}
}

// Register records a native object and returns its handle. A zero address
// is the null object and yields the zero handle. Borrowed registrations of
// the same address and class share one handle.
func (t *HandleTable) Register(addr uint64, ownership Ownership, class *ClassType) (HandleID, error) {
	if addr == 0 {
		return 0, nil
	}
	if class == nil {
		return 0, bgerrors.InvalidInput(bgerrors.PhaseLifetime, "cannot register a handle without a class")
	}

	switch ownership {
	case Borrowed:
		if id, ok := t.borrowed[borrowKey{addr, class.name}]; ok {
			return id, nil
		}
	case Shared:
		if id, ok := t.shared[addr]; ok {
			return 0, bgerrors.New(bgerrors.PhaseLifetime, bgerrors.KindInvalidInput).
				Detail("address 0x%x already has shared handle %d, retain it instead", addr, id).
				Build()
		}
	case Exclusive:
		if id, ok := t.exclusive[addr]; ok {
			return 0, bgerrors.New(bgerrors.PhaseLifetime, bgerrors.KindInvalidInput).
				Detail("address 0x%x is already owned by handle %d", addr, id).
				Build()
		}
	default:
		return 0, bgerrors.InvalidInput(bgerrors.PhaseLifetime, fmt.Sprintf("unknown ownership %d", ownership))
	}

	id := t.next
	t.next++

	t.entries[id] = &handleEntry{
		id:        id,
		addr:      addr,
		ownership: ownership,
		refcount:  1,
		class:     class,
	}
	switch ownership {
	case Exclusive:
		t.exclusive[addr] = id
	case Shared:
		t.shared[addr] = id
	case Borrowed:
		t.borrowed[borrowKey{addr, class.name}] = id
	}

	t.logger.Debug("registered handle",
		zap.Uint64("id", id),
		zap.String("class", class.name),
		zap.Stringer("ownership", ownership),
		zap.Uint64("address", addr),
	)

	return id, nil
}

// SharedID returns the live shared handle of an address, or zero.
func (t *HandleTable) SharedID(addr uint64) HandleID {
	return t.shared[addr]
}

// ExclusiveID returns the live exclusive handle of an address, or zero.
func (t *HandleTable) ExclusiveID(addr uint64) HandleID {
	return t.exclusive[addr]
}

// NextID is the id the next registration will get. Every handle with a
// lower id was registered before the call.
func (t *HandleTable) NextID() HandleID {
	return t.next
}

func (t *HandleTable) lookup(id HandleID) (*handleEntry, error) {
	e, ok := t.entries[id]
	if !ok {
		return nil, bgerrors.InvalidHandle(id)
	}
	return e, nil
}

// Resolve returns the native address behind a handle.
func (t *HandleTable) Resolve(id HandleID) (uint64, error) {
	e, err := t.lookup(id)
	if err != nil {
		return 0, err
	}
	return e.addr, nil
}

// Info describes a live handle.
func (t *HandleTable) Info(id HandleID) (HandleInfo, error) {
	e, err := t.lookup(id)
	if err != nil {
		return HandleInfo{}, err
	}
	return e.info(), nil
}

func (e *handleEntry) info() HandleInfo {
	return HandleInfo{
		ID:        e.id,
		Address:   e.addr,
		Ownership: e.ownership,
		RefCount:  e.refcount,
		Class:     e.class.name,
	}
}

// Retain adds a reference to a shared handle. Borrowed handles ignore it.
func (t *HandleTable) Retain(id HandleID) error {
	e, err := t.lookup(id)
	if err != nil {
		return err
	}

	switch e.ownership {
	case Shared:
		e.refcount++
	case Borrowed:
	default:
		return bgerrors.New(bgerrors.PhaseLifetime, bgerrors.KindNotShared).
			Detail("handle %d is %s and cannot be retained", id, e.ownership).
			Value(id).
			Build()
	}
	return nil
}

// Release drops a reference. Exclusive handles are destroyed immediately,
// shared handles when the last reference goes, borrowed handles are left
// alone (see Unregister). Releasing a handle that was already destroyed
// fails with a double release. Destroying an object also drops every
// borrowed handle of its address.
func (t *HandleTable) Release(ctx context.Context, id HandleID) error {
	e, ok := t.entries[id]
	if !ok {
		if id != 0 && id < t.next {
			return bgerrors.DoubleRelease(id)
		}
		return bgerrors.InvalidHandle(id)
	}

	switch e.ownership {
	case Borrowed:
		return nil
	case Shared:
		e.refcount--
		if e.refcount > 0 {
			t.logger.Debug("released shared reference", zap.Uint64("id", id), zap.Int32("remaining", e.refcount))
			return nil
		}
		delete(t.shared, e.addr)
	case Exclusive:
		delete(t.exclusive, e.addr)
	}

	// Remove before destroying, the destructor may re-enter the table.
	delete(t.entries, id)
	e.refcount = 0
	t.forgetBorrowed(e.addr)

	t.logger.Debug("destroying handle", zap.Uint64("id", id), zap.String("class", e.class.name), zap.Stringer("ownership", e.ownership))

	if t.destroy == nil {
		return nil
	}
	return t.destroy(ctx, e.info())
}

// Unregister forgets a borrowed handle. The object is not touched.
func (t *HandleTable) Unregister(id HandleID) error {
	e, err := t.lookup(id)
	if err != nil {
		return err
	}
	if e.ownership != Borrowed {
		return bgerrors.New(bgerrors.PhaseLifetime, bgerrors.KindInvalidInput).
			Detail("handle %d is %s, release it instead of unregistering", id, e.ownership).
			Value(id).
			Build()
	}
	delete(t.entries, id)
	delete(t.borrowed, borrowKey{e.addr, e.class.name})
	return nil
}

// forgetBorrowed drops the borrowed handles of an object that is being
// destroyed, so they fail to resolve instead of pointing at freed memory.
func (t *HandleTable) forgetBorrowed(addr uint64) {
	for key, id := range t.borrowed {
		if key.addr != addr {
			continue
		}
		delete(t.borrowed, key)
		delete(t.entries, id)
		t.logger.Debug("dropped borrowed handle of destroyed object", zap.Uint64("id", id), zap.String("class", key.class))
	}
}

// Count returns the number of live handles.
func (t *HandleTable) Count() int {
	return len(t.entries)
}

// Live lists every live handle.
func (t *HandleTable) Live() []HandleInfo {
	out := make([]HandleInfo, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.info())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
