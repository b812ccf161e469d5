// Package dispatch routes fact mutations to after-commit reconciliation.
// Handlers fire synchronously inside the mutating transaction but only
// schedule work; the scheduled reconciliations run once the transaction has
// committed, so they always observe committed state.
package dispatch

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"purple/internal/domain"
)

// EventKind identifies a trigger registration point.
type EventKind string

const (
	KindAssignment        EventKind = "assignment"
	KindActionHolder      EventKind = "action_holder"
	KindRelatedDocument   EventKind = "related_document"
	KindClusterMembership EventKind = "cluster_membership"
	KindLabels            EventKind = "labels"
)

// Handler reacts to a mutation observed inside a transaction. Handlers must
// not write to storage; they schedule work on the transaction instead.
type Handler func(tx *Tx, documentID string)

// ReconcileFunc is the after-commit action applied to each distinct document.
type ReconcileFunc func(ctx context.Context, documentID string) (bool, error)

// Dispatcher is the explicit trigger registry. Suspend/Resume nest: handlers
// are inert while the suspend count is positive.
type Dispatcher struct {
	mu        sync.Mutex
	suspended int
	handlers  map[EventKind][]Handler
	reconcile ReconcileFunc
	log       *zap.Logger
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		handlers: make(map[EventKind][]Handler),
		log:      log,
	}
	// Default wiring: every kind schedules a reconciliation of the affected
	// document.
	schedule := func(tx *Tx, documentID string) { tx.schedule(documentID) }
	for _, kind := range []EventKind{KindAssignment, KindActionHolder, KindRelatedDocument, KindClusterMembership, KindLabels} {
		d.Register(kind, schedule)
	}
	return d
}

// Register adds a handler for an event kind.
func (d *Dispatcher) Register(kind EventKind, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], h)
}

// SetReconciler installs the after-commit reconciliation function. Must be
// called before any transaction commits; kept separate from New to break the
// construction cycle with the engine.
func (d *Dispatcher) SetReconciler(fn ReconcileFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reconcile = fn
}

// Suspend disables all handlers process-wide until a matching Resume. Calls
// nest; only the outermost Resume reactivates the handlers. Use for bulk or
// administrative operations that would otherwise storm the reconciler.
func (d *Dispatcher) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended++
}

// Resume undoes one Suspend. Resuming more times than suspended is a bug in
// the caller; the count clamps at zero.
func (d *Dispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.suspended > 0 {
		d.suspended--
	} else {
		d.log.Warn("dispatch: resume without matching suspend")
	}
}

func (d *Dispatcher) isSuspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended > 0
}

func (d *Dispatcher) notify(tx *Tx, kind EventKind, documentID string) {
	if documentID == "" || d.isSuspended() {
		return
	}
	d.mu.Lock()
	handlers := d.handlers[kind]
	d.mu.Unlock()
	for _, h := range handlers {
		h(tx, documentID)
	}
}

// Tx wraps a storage transaction with a per-transaction set of documents to
// reconcile after commit. The set is deduplicated and discarded on rollback.
type Tx struct {
	*sql.Tx
	d         *Dispatcher
	ctx       context.Context
	pending   map[string]struct{}
	finalized bool
}

// Begin opens a transaction whose commit drains scheduled reconciliations.
func (d *Dispatcher) Begin(ctx context.Context, db *sql.DB) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, d: d, ctx: ctx, pending: make(map[string]struct{})}, nil
}

func (t *Tx) schedule(documentID string) {
	t.pending[documentID] = struct{}{}
}

// AssignmentChanged notes a mutation to an assignment. Mutations to the
// synthetic blocked role are ignored to prevent reconciliation feedback.
func (t *Tx) AssignmentChanged(documentID string, role domain.Role) {
	if role == domain.RoleBlocked {
		return
	}
	t.d.notify(t, KindAssignment, documentID)
}

func (t *Tx) ActionHolderChanged(documentID string) {
	t.d.notify(t, KindActionHolder, documentID)
}

func (t *Tx) RelatedDocumentChanged(sourceDocumentID string) {
	t.d.notify(t, KindRelatedDocument, sourceDocumentID)
}

// ClusterMembershipChanged takes the owning document, already resolved from
// the draft name by the caller. An empty id (draft not in the queue) is a
// no-op.
func (t *Tx) ClusterMembershipChanged(documentID string) {
	t.d.notify(t, KindClusterMembership, documentID)
}

func (t *Tx) LabelsChanged(documentID string) {
	t.d.notify(t, KindLabels, documentID)
}

// Commit commits the storage transaction, then reconciles each scheduled
// document exactly once. Reconciliation failures are logged and left for the
// periodic sweep; they do not fail the commit.
func (t *Tx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.finalized = true
	pending := t.pending
	t.pending = nil
	for documentID := range pending {
		fn := t.d.reconcileFunc()
		if fn == nil {
			t.d.log.Warn("dispatch: no reconciler installed", zap.String("document", documentID))
			continue
		}
		if _, err := fn(t.ctx, documentID); err != nil {
			t.d.log.Error("dispatch: post-commit reconciliation failed",
				zap.String("document", documentID), zap.Error(err))
		}
	}
	return nil
}

// Rollback aborts the transaction and discards scheduled reconciliations.
// Safe to defer after a successful Commit.
func (t *Tx) Rollback() error {
	if t.finalized {
		return nil
	}
	t.finalized = true
	t.pending = nil
	return t.Tx.Rollback()
}

func (d *Dispatcher) reconcileFunc() ReconcileFunc {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reconcile
}
