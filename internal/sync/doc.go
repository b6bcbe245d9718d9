// Package sync merges client-submitted thought snapshots into the store and
// serves incremental change feeds.
//
// # Merge
//
// Every change in a batch goes through Resolve, a pure last-write-wins
// decision on updated_at:
//
//   - unknown id: the snapshot becomes the stored thought
//   - incoming.updated_at <= stored.updated_at: no-op (ties keep the stored value)
//   - incoming.updated_at > stored.updated_at: the snapshot replaces every
//     field except created_at
//
// A winning snapshot is written as a row, then its tags and outgoing links
// are reconciled (see package reconcile). A thought that becomes a tombstone
// loses all incoming edges.
//
// One request runs in one transaction. Each change runs in its own
// savepoint: a change that fails validation or links to an unknown thought
// is rolled back and reported in Rejected while the rest of the batch
// commits. Changes rejected only because a link target was missing are
// retried after the other changes, so a batch does not depend on its order.
// Storage failures abort the whole request.
//
// # Feed
//
// Page returns thoughts, tombstones included, with updated_at strictly after
// a cursor, ordered by (updated_at, id), fetching limit+1 rows to compute
// has_more. The response cursor is the server clock when the request was
// processed. Clients page forward with the updated_at of the last row while
// has_more is set and adopt the cursor once the feed is drained.
//
// # Clocks
//
// Conflict resolution trusts client timestamps. A device with a clock far in
// the future wins every conflict until real time catches up.
//
// # Usage
//
//	coord := sync.NewCoordinator(db, sync.WithPageSize(100), sync.WithLogger(logger))
//	resp, err := coord.Sync(ctx, sync.Request{
//	    ClientID: "laptop",
//	    Since:    &lastCursor,
//	    Changes:  pending,
//	})
package sync
