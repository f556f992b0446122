package sdk

import (
	"os"

	"github.com/syncline-dev/syncline/pkg/engine"
	"github.com/syncline-dev/syncline/pkg/replicate"
)

// Local is an embedded data source: a tracked record store plus its
// change log, usable as a replication endpoint without a daemon.
type Local struct {
	Store    *engine.MemStore
	Log      *replicate.MemLog
	Tracker  *replicate.Tracker
	Differ   *replicate.Differ
	Endpoint *replicate.LocalEndpoint
}

// NewLocal builds an embedded data source named name. With a non-empty
// dataDir, record snapshots are loaded from and persisted to disk; the
// change log itself stays in memory, so replication progress restarts
// from zero — callers needing durable progress run a daemon instead.
func NewLocal(name, dataDir string) (*Local, error) {
	var persister *engine.Persistence
	var initial map[string]map[string]map[string]any

	if dataDir != "" {
		var err error
		persister, err = engine.NewPersistence(dataDir)
		if err != nil {
			return nil, err
		}
		initial, err = persister.LoadAll()
		if err != nil {
			return nil, err
		}
	}

	log := replicate.NewMemLog()
	tracker := replicate.NewTracker(log, replicate.MemorySequencers)
	store := engine.NewMemStore(initial, tracker, persister)
	differ := replicate.NewDiffer(log)

	return &Local{
		Store:    store,
		Log:      log,
		Tracker:  tracker,
		Differ:   differ,
		Endpoint: replicate.NewLocalEndpoint(name, store, differ, tracker, replicate.AllowAll),
	}, nil
}

// New returns a replication endpoint based on the environment: a remote
// client when SYNCLINE_ADDR is set (with SYNCLINE_TOKEN as the
// credential), an embedded store under dataDir otherwise. The caller does
// not care which it got.
func New(name, dataDir string) (replicate.Endpoint, error) {
	if addr := os.Getenv("SYNCLINE_ADDR"); addr != "" {
		return Connect(addr, os.Getenv("SYNCLINE_TOKEN"))
	}

	local, err := NewLocal(name, dataDir)
	if err != nil {
		return nil, err
	}
	return local.Endpoint, nil
}
