package storage

import (
	"context"
	"sort"
)

// Op is a batch mutation operation.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Mutation is one member of an atomic batch commit.
type Mutation struct {
	Bucket  string
	Key     string
	Op      Op
	Value   Row
	Options PutOptions

	// EventSink marks mutations destined for the overlay/change-log
	// buckets. These are causally ordered: SortBatch keeps their relative
	// order and places them after the topology group.
	EventSink bool

	// OnCommit, if set, receives the mutation's new etag after a
	// successful commit so the in-memory model can continue
	// read-modify-write without refetching.
	OnCommit func(etag string)
}

// SortBatch orders a batch for commit. Topology mutations (networks, pools,
// IPs, NICs) are sorted by bucket name descending, then key ascending;
// event-sink mutations keep their submission order and are appended after.
//
// The backing store takes per-row locks in commit order. Fixing one global
// order means two concurrent operations that touch overlapping rows always
// acquire those locks in the same sequence, which rules out lock-order
// deadlocks. Changing this sort is a correctness bug, not a style choice.
func SortBatch(muts []Mutation) []Mutation {
	topo := make([]Mutation, 0, len(muts))
	events := make([]Mutation, 0)
	for _, m := range muts {
		if m.EventSink {
			events = append(events, m)
		} else {
			topo = append(topo, m)
		}
	}
	sort.SliceStable(topo, func(i, j int) bool {
		if topo[i].Bucket != topo[j].Bucket {
			return topo[i].Bucket > topo[j].Bucket
		}
		return topo[i].Key < topo[j].Key
	})
	return append(topo, events...)
}

// Commit sorts and commits a batch atomically, then delivers each
// mutation's new etag to its OnCommit callback. On any error (including
// ErrEtagConflict) no mutation has been applied and no callback runs.
func Commit(ctx context.Context, st Store, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	ordered := SortBatch(muts)
	etags, err := st.Batch(ctx, ordered)
	if err != nil {
		return err
	}
	for i, m := range ordered {
		if m.OnCommit != nil && i < len(etags) {
			m.OnCommit(etags[i])
		}
	}
	return nil
}
