package weft

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/weftwork/weft/internal/codec"
	"github.com/weftwork/weft/internal/item"
)

// Doc is one replica of a shared document: a set of named shared-type
// roots over a tombstoned item store, plus the replica's clock, state
// vector, pending buffer, and observer registry.
//
// Reads are safe from any goroutine. Mutations go through Transact or
// ApplyUpdate; one transaction may be open at a time and a concurrent
// attempt fails with ErrTransactionConflict. Readers interleaving with
// an open transaction observe the operations applied so far, never a
// torn one.
type Doc struct {
	mu      sync.RWMutex
	store   *item.Store
	replica uint64
	logger  *slog.Logger

	txnBusy atomic.Bool
	closed  bool

	nextSubID  uint64
	rootSubs   map[string]map[uint64]func(Event)
	branchSubs map[*item.Branch]map[uint64]func(Event)
	updateSubs map[uint64]func([]byte)
}

// Option configures a Doc at construction.
type Option func(*Doc)

// WithReplicaID pins the replica ID instead of minting a random one.
// Callers are responsible for uniqueness across the document's life.
func WithReplicaID(id uint64) Option {
	return func(d *Doc) {
		d.replica = id
	}
}

// WithLogger routes the document's diagnostics to l instead of
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Doc) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDoc creates an empty document with a random replica ID.
func NewDoc(opts ...Option) *Doc {
	d := &Doc{
		store:      item.NewStore(),
		replica:    mintReplicaID(),
		logger:     slog.Default(),
		rootSubs:   make(map[string]map[uint64]func(Event)),
		branchSubs: make(map[*item.Branch]map[uint64]func(Event)),
		updateSubs: make(map[uint64]func([]byte)),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger.Debug("document created", "replica", d.replica)
	return d
}

// mintReplicaID derives a random replica ID from a UUIDv7, masked to
// 53 bits so IDs stay representable in ecosystems whose integers top
// out at 2^53.
func mintReplicaID() uint64 {
	u := uuid.Must(uuid.NewV7())
	raw := binary.BigEndian.Uint64(u[8:])
	return raw & (1<<53 - 1)
}

// ReplicaID returns the document's replica ID.
func (d *Doc) ReplicaID() uint64 {
	return d.replica
}

// Text returns the named text root, creating and binding it on first
// access. Accessing an existing root under a different kind fails with
// ErrUnknownRootType.
func (d *Doc) Text(name string) (*Text, error) {
	b, err := d.rootBranch(name, item.KindText)
	if err != nil {
		return nil, err
	}
	return &Text{doc: d, branch: b}, nil
}

// Array returns the named array root, creating and binding it on first
// access.
func (d *Doc) Array(name string) (*Array, error) {
	b, err := d.rootBranch(name, item.KindArray)
	if err != nil {
		return nil, err
	}
	return &Array{doc: d, branch: b}, nil
}

// Map returns the named map root, creating and binding it on first
// access.
func (d *Doc) Map(name string) (*Map, error) {
	b, err := d.rootBranch(name, item.KindMap)
	if err != nil {
		return nil, err
	}
	return &Map{doc: d, branch: b}, nil
}

func (d *Doc) rootBranch(name string, kind item.RootKind) (*item.Branch, error) {
	if name == "" {
		return nil, fmt.Errorf("weft: root name must be non-empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDetachedHandle
	}
	return d.store.Root(name, kind)
}

// Roots lists the known root names in ascending order, including roots
// created by remote updates that have not been typed-accessed yet.
func (d *Doc) Roots() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.RootNames()
}

// RootKind reports the kind of a known root without binding it. Roots
// only touched by remote updates are classified by their visible
// content; empty ones report KindUnknown.
func (d *Doc) RootKind(name string) (Kind, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.store.RootBranch(name)
	if !ok {
		return KindUnknown, false
	}
	return kindOf(effectiveKind(b)), true
}

// StateVector returns a copy of the document's state vector: per
// replica, the number of clock units integrated from it.
func (d *Doc) StateVector() map[uint64]uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[uint64]uint64, len(d.store.State()))
	for r, c := range d.store.State() {
		if c > 0 {
			out[r] = c
		}
	}
	return out
}

// EncodeStateVector renders the state vector in the compact binary
// form understood by EncodeStateAsUpdate on any replica.
func (d *Doc) EncodeStateVector() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return codec.EncodeStateVector(d.store.State())
}

// EncodeStateAsUpdate produces an update containing everything the
// given state vector is missing. A nil or empty since means the full
// history. The delete set always travels whole; state vectors do not
// cover deletions and re-applying tombstones is idempotent.
func (d *Doc) EncodeStateAsUpdate(since []byte) ([]byte, error) {
	sv := make(item.StateVector)
	if len(since) > 0 {
		parsed, err := codec.DecodeStateVector(since)
		if err != nil {
			return nil, err
		}
		sv = parsed
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return codec.EncodeUpdate(d.store.State(), d.store.RunsSince(sv), d.store.FullDeleteSet())
}

// ApplyUpdate integrates a remote update. Input is validated in full
// before any store mutation, so malformed bytes reject atomically with
// ErrMalformedUpdate. Items whose causal dependencies have not arrived
// are buffered and integrate automatically once a later update fills
// the gap; applying the same update twice is a no-op.
func (d *Doc) ApplyUpdate(update []byte) error {
	return d.apply(update, false)
}

// ApplyUpdateStrict is ApplyUpdate, but reports buffered causal gaps
// as ErrIncompleteSync. Everything whose dependencies were met has
// still been integrated when it returns.
func (d *Doc) ApplyUpdateStrict(update []byte) error {
	return d.apply(update, true)
}

func (d *Doc) apply(update []byte, strict bool) error {
	upd, err := codec.DecodeUpdate(update)
	if err != nil {
		return err
	}
	if !d.txnBusy.CompareAndSwap(false, true) {
		return ErrTransactionConflict
	}
	defer d.txnBusy.Store(false)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDetachedHandle
	}
	tx := item.NewTxState(d.store)
	d.store.ApplyBatch(tx, upd.Items, upd.DS)

	var feedBytes []byte
	var encErr error
	if len(d.updateSubs) > 0 && !tx.Empty() {
		// The feed re-encodes the range integrated by this apply, not
		// the raw input: duplicates and buffered items are excluded.
		feedBytes, encErr = codec.EncodeUpdate(d.store.State(), d.store.RunsSince(tx.Before), tx.DS)
	}
	events := d.buildEvents(tx, false, "")
	deliveries := d.collectDeliveries(events)
	feeds := d.collectUpdateSubs()
	pendingRuns := d.store.PendingLen()
	pendingDeletes := d.store.PendingDeletes()
	var missing []item.ID
	if strict && pendingRuns > 0 {
		missing = d.store.MissingDependencies()
	}
	d.mu.Unlock()

	if encErr != nil {
		return fmt.Errorf("weft: re-encode integrated range: %w", encErr)
	}
	d.logger.Debug("update applied",
		"replica", d.replica,
		"items", len(upd.Items),
		"pending_runs", pendingRuns,
	)
	d.deliver(deliveries, feeds, feedBytes)

	if strict && (pendingRuns > 0 || pendingDeletes > 0) {
		if len(missing) > 0 {
			return fmt.Errorf("%w: %d runs buffered, first missing dependency %s",
				ErrIncompleteSync, pendingRuns, missing[0])
		}
		return fmt.Errorf("%w: %d tombstone units address unintegrated runs",
			ErrIncompleteSync, pendingDeletes)
	}
	return nil
}

// PendingUpdates reports how many decoded item runs are buffered
// awaiting causal dependencies.
func (d *Doc) PendingUpdates() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.store.PendingLen()
}

// Close detaches every handle and cancels all subscriptions. Further
// mutations fail with ErrDetachedHandle; pure reads on the Doc itself
// keep serving the final state. Close is idempotent.
func (d *Doc) Close() error {
	if !d.txnBusy.CompareAndSwap(false, true) {
		return ErrTransactionConflict
	}
	defer d.txnBusy.Store(false)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	clear(d.rootSubs)
	clear(d.branchSubs)
	clear(d.updateSubs)
	d.logger.Debug("document closed", "replica", d.replica)
	return nil
}
