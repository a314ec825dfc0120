package weft

import (
	"errors"
	"fmt"

	"github.com/weftwork/weft/internal/codec"
	"github.com/weftwork/weft/internal/item"
)

// Txn scopes one batch of local mutations. Mutators take the active
// transaction as their first argument; the transaction commits when
// the Transact callback returns, on every exit path.
type Txn struct {
	doc    *Doc
	state  *item.TxState
	origin string
	done   bool
}

// Origin returns the tag given to TransactOrigin, or "".
func (t *Txn) Origin() string {
	return t.origin
}

// guard validates the transaction for a mutator of document d.
func (t *Txn) guard(d *Doc) error {
	if t == nil || t.state == nil {
		return ErrNoTransaction
	}
	if t.doc != d {
		return fmt.Errorf("%w: transaction belongs to a different document", ErrNoTransaction)
	}
	if t.done {
		return ErrTransactionDone
	}
	return nil
}

// Transact runs fn with a fresh transaction and commits on return.
// The commit happens on every exit path; an error from fn does not
// roll anything back and is handed to the caller after the commit.
// The returned bytes are the update covering exactly this
// transaction's operations, nil when it made no changes.
//
// A second transaction while one is open, including from an observer
// callback, fails with ErrTransactionConflict.
func (d *Doc) Transact(fn func(*Txn) error) ([]byte, error) {
	return d.transact("", fn)
}

// TransactOrigin is Transact with an origin tag carried into the
// observer events of this transaction.
func (d *Doc) TransactOrigin(origin string, fn func(*Txn) error) ([]byte, error) {
	return d.transact(origin, fn)
}

func (d *Doc) transact(origin string, fn func(*Txn) error) ([]byte, error) {
	if fn == nil {
		return nil, fmt.Errorf("weft: transaction func must be non-nil")
	}
	if !d.txnBusy.CompareAndSwap(false, true) {
		return nil, ErrTransactionConflict
	}
	defer d.txnBusy.Store(false)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDetachedHandle
	}
	tx := &Txn{doc: d, state: item.NewTxState(d.store), origin: origin}
	d.mu.Unlock()

	fnErr := fn(tx)

	update, deliveries, feeds, sealErr := d.seal(tx)
	if sealErr != nil {
		return nil, errors.Join(fnErr, sealErr)
	}
	d.deliver(deliveries, feeds, update)
	return update, fnErr
}

// seal closes the transaction under the write lock: encodes the update
// covering its operations and assembles the observer work. Callbacks
// run after the lock is released, with the transaction slot still held
// so reentrant transactions fail fast.
func (d *Doc) seal(tx *Txn) ([]byte, []delivery, []func([]byte), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx.done = true
	if tx.state.Empty() {
		return nil, nil, nil, nil
	}
	runs := d.store.RunsSince(tx.state.Before)
	update, err := codec.EncodeUpdate(d.store.State(), runs, tx.state.DS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("weft: encode update: %w", err)
	}
	events := d.buildEvents(tx.state, true, tx.origin)
	deliveries := d.collectDeliveries(events)
	feeds := d.collectUpdateSubs()
	d.logger.Debug("transaction committed",
		"replica", d.replica,
		"runs", len(runs),
		"events", len(events),
	)
	return update, deliveries, feeds, nil
}

// deliver fires observer callbacks and then the update feed, outside
// the document lock.
func (d *Doc) deliver(deliveries []delivery, feeds []func([]byte), update []byte) {
	for _, dl := range deliveries {
		dl.fn(dl.ev)
	}
	if update == nil {
		return
	}
	for _, fn := range feeds {
		fn(update)
	}
}
