package replicate

// Partition splits the combined delta into changes that are safe to apply
// to the target, overlaps where both sides already hold the same revision,
// and genuine conflicts, mirroring optimistic concurrency. Callers remove
// replication echoes first (entries whose revision matches the pair's last
// confirmed revision for the record), so a record present in both deltas
// has really been edited on both sides since the pair last agreed.
//
//   - Record only in the source delta: safe, the target has not diverged.
//   - Record in both with equal revisions: converged, the sides reached
//     the same state independently; nothing to apply, but the agreement is
//     worth recording.
//   - Record in both with divergent revisions: conflict. This covers
//     delete/update in either order, because a tombstone revision never
//     equals a content revision.
//
// Target-only records are simply absent from the result; they belong to
// the run replicating in the opposite direction.
func Partition(source, target []Change) (safe, converged []Change, conflicts []Conflict) {
	targetByID := make(map[string]Change, len(target))
	for _, c := range target {
		targetByID[c.RecordID] = c
	}

	for _, c := range source {
		other, ok := targetByID[c.RecordID]
		if !ok {
			safe = append(safe, c)
			continue
		}
		if other.Revision == c.Revision {
			converged = append(converged, c)
			continue
		}
		conflicts = append(conflicts, Conflict{
			Model:    c.Model,
			RecordID: c.RecordID,
			Source:   c,
			Target:   other,
		})
	}
	return safe, converged, conflicts
}
