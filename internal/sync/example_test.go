package sync_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/enso-notes/enso/internal/store"
	"github.com/enso-notes/enso/internal/sync"
	"github.com/enso-notes/enso/internal/thought"
)

// This example shows one device pushing a local edit and pulling everything
// newer than its last cursor. It is documentation only and does not run.
func ExampleCoordinator_Sync() {
	ctx := context.Background()
	db, err := store.OpenAndInit(ctx, ".enso/enso.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	coord := sync.NewCoordinator(db, sync.WithPageSize(100))

	edited := time.Now()
	cursor := edited.Add(-time.Hour)
	resp, err := coord.Sync(ctx, sync.Request{
		ClientID: "laptop",
		Since:    &cursor,
		Changes: []thought.Snapshot{{
			ID:        "th_Q3vX9aKd18f2c1e4b2a",
			Title:     "Launch plan",
			Content:   "Ship the sync engine",
			Tags:      []string{"work"},
			UpdatedAt: &edited,
		}},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("applied=%d received=%d more=%v next=%s\n",
		resp.Applied, len(resp.Changes), resp.HasMore, resp.Cursor.Format(time.RFC3339))
}

// This example loads snapshots without paging, as the inbox importer does.
func ExampleCoordinator_Apply() {
	ctx := context.Background()
	db, err := store.OpenAndInit(ctx, ".enso/enso.db")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	res, err := sync.NewCoordinator(db).Apply(ctx, []thought.Snapshot{
		{Title: "Groceries", Content: "oat milk"},
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Applied, len(res.Rejected))
}
