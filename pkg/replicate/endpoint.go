package replicate

import "context"

// AccessType is the kind of access a principal requests on a model.
type AccessType string

const (
	AccessRead  AccessType = "READ"
	AccessWrite AccessType = "WRITE"
	AccessAny   AccessType = "*"
)

// Gate decides whether the principal bound to it may touch a model. A nil
// return allows; a denial is an authorization Error. Gates are read-shared
// across concurrent runs and must not be mutated by the replicator.
//
// recordID is accepted for forward compatibility with row-level rules but
// the shipped rule set is model-level only.
type Gate interface {
	Check(model string, access AccessType, recordID string) error
}

type allowAll struct{}

func (allowAll) Check(string, AccessType, string) error { return nil }

// AllowAll is the gate for a side that needs no local enforcement: either
// the caller fully owns the store, or the side is remote and enforces its
// own rules, surfacing denials as authorization failures on the wire.
var AllowAll Gate = allowAll{}

// RecordStore is the persistence collaborator a local endpoint applies
// changes through. Apply must be idempotent: re-applying a change a store
// already reflects yields the same end state and records nothing new.
type RecordStore interface {
	Apply(model string, change Change) error
}

// Endpoint is one side of a replication pair, reachable either in-process
// or over the network. Every operation takes a context because the
// networked variant suspends on I/O.
type Endpoint interface {
	// Name identifies the data source, and with it the checkpoint
	// sequences it owns.
	Name() string

	// Checkpoint returns the model's current checkpoint.
	Checkpoint(ctx context.Context, model string) (int64, error)

	// Delta returns the collapsed changes since the given checkpoint.
	Delta(ctx context.Context, model string, since int64) ([]Change, error)

	// Head returns the latest change per requested record id.
	Head(ctx context.Context, model string, ids []string) ([]Change, error)

	// Apply writes a safe delta into this side's store, idempotently.
	Apply(ctx context.Context, model string, changes []Change) error

	// Gate is the access gate effective for operations on this side.
	Gate() Gate
}

// LocalEndpoint is the in-process side of a pair: a tracked record store
// plus its change log, guarded by an access gate for the principal the
// run acts as. Anonymous in-process use pairs it with AllowAll.
type LocalEndpoint struct {
	name    string
	store   RecordStore
	differ  *Differ
	tracker *Tracker
	gate    Gate
}

// NewLocalEndpoint wires a local side. The differ and tracker must be
// built over the same change log the store records into.
func NewLocalEndpoint(name string, store RecordStore, differ *Differ, tracker *Tracker, gate Gate) *LocalEndpoint {
	if gate == nil {
		gate = AllowAll
	}
	return &LocalEndpoint{
		name:    name,
		store:   store,
		differ:  differ,
		tracker: tracker,
		gate:    gate,
	}
}

func (e *LocalEndpoint) Name() string { return e.name }

func (e *LocalEndpoint) Gate() Gate { return e.gate }

func (e *LocalEndpoint) Checkpoint(ctx context.Context, model string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seq, err := e.tracker.Sequencer(model)
	if err != nil {
		return 0, err
	}
	return seq.Current(), nil
}

func (e *LocalEndpoint) Delta(ctx context.Context, model string, since int64) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.differ.Delta(model, since)
}

func (e *LocalEndpoint) Head(ctx context.Context, model string, ids []string) ([]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.differ.Head(model, ids)
}

func (e *LocalEndpoint) Apply(ctx context.Context, model string, changes []Change) error {
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.store.Apply(model, c); err != nil {
			return NewApplyError(e.name, model, err)
		}
	}
	return nil
}
