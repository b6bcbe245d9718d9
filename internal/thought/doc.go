// Package thought defines the note model shared by storage, sync and the
// HTTP surface.
//
// A Thought is the stored form. A Snapshot is what a client submits: the id
// and all timestamps are optional, and fields are canonicalized by
// Snapshot.Normalize before they reach the sync engine:
//
//   - titles are trimmed, blank titles become DefaultTitle
//   - blank content is a validation error
//   - tags are trimmed, lowercased, deduplicated and sorted
//   - links are trimmed, deduplicated, sorted, and never include the note itself
//   - timestamps are UTC with microsecond precision
//
// Snapshots can also live on disk as {id}.json files (see ReadFile and
// WriteFile); the inbox importer uses this form.
//
// Identifiers come from NewID:
//
//	id := thought.NewID(time.Now()) // th_Q3vX9aKd18f2c1e4b2a
package thought
