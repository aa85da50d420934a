// Package notesync is the composition root of a local-first note sync engine.
//
// A Client mirrors the notes of a backend in memory, sends every mutation
// to the backend before applying it locally, refreshes the mirror from the
// backend change stream and restarts synchronization when connectivity
// comes back.
//
// Backends:
//
//   - fs: a directory of YAML files, optionally versioned with git.
//   - sqlite: a local database file.
//   - remote: a notesd server over HTTP and websocket.
//   - memory: in-process, for tests and demos.
//
// Usage:
//
//	c, err := notesync.New("./vault",
//		notesync.WithAutoInit(true),
//		notesync.WithUsername("alice"),
//	)
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Close()
//
//	res := c.CreateNote(ctx, "buy milk")
//	if !res.OK() {
//		fmt.Println(res.Reason())
//	}
//	for _, n := range c.ListNotes() { ... }
package notesync
