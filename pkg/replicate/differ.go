package replicate

import "sort"

// Differ computes the delta of one data source since a checkpoint.
type Differ struct {
	log ChangeLog
}

// NewDiffer builds a differ over a source's change log.
func NewDiffer(log ChangeLog) *Differ {
	return &Differ{log: log}
}

// Delta returns the changes for the model with checkpoint strictly greater
// than since, collapsed to the latest change per record. Intermediate
// changes are irrelevant to synchronization; only the end state of each
// record matters. Ordering is by checkpoint ascending with record id as
// the tie breaker, so re-reading the same delta after no new mutations
// yields an identical result.
func (d *Differ) Delta(model string, since int64) ([]Change, error) {
	raw, err := d.log.Since(model, since)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Change, len(raw))
	for _, c := range raw {
		prev, ok := latest[c.RecordID]
		if !ok || c.Checkpoint > prev.Checkpoint {
			latest[c.RecordID] = c
		}
	}

	out := make([]Change, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Checkpoint != out[j].Checkpoint {
			return out[i].Checkpoint < out[j].Checkpoint
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out, nil
}

// Head returns the latest change per requested record id. Used to
// re-examine records whose conflicts are still pending after checkpoints
// advanced past them.
func (d *Differ) Head(model string, ids []string) ([]Change, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return d.log.Head(model, ids)
}
