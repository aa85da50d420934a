package notesync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/notesync"
)

// Example_basic creates, edits and deletes a note against an in-memory backend.
func Example_basic() {
	ctx := context.Background()

	c, err := notesync.New("", notesync.WithAdapter(notesync.AdapterMemory), notesync.WithUsername("gopher"))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()
	if err := c.Start(ctx); err != nil {
		log.Fatal(err)
	}

	res := c.CreateNote(ctx, "hello")
	if !res.OK() {
		log.Fatal(res.Reason())
	}
	c.UpdateNote(ctx, res.Value.ID, "hello, world")

	for _, n := range c.ListNotes() {
		fmt.Println(n.Content)
	}

	c.DeleteNote(ctx, res.Value.ID)
	fmt.Println(len(c.ListNotes()))
	// Output:
	// hello, world
	// 0
}

// Example_emptyContent shows that blank notes are not created.
func Example_emptyContent() {
	ctx := context.Background()

	c, err := notesync.New("", notesync.WithAdapter(notesync.AdapterMemory))
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	res := c.CreateNote(ctx, "")
	fmt.Println(res.Skipped, res.Reason())
	// Output:
	// true nothing to do
}
