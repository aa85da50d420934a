package core

import "context"

// Backend is the remote source of truth consumed by the engine.
// Adhering to this interface keeps the engine independent of the transport
// and storage behind it (in-memory, directory, SQL, HTTP).
type Backend interface {
	// QueryNotes returns every note the backend knows, tombstones included.
	QueryNotes(ctx context.Context) ([]Note, error)

	// GetNote returns the note with the given ID, or ErrNotFound.
	GetNote(ctx context.Context, id string) (Note, error)

	// SaveNote creates the note when its ID is empty or unknown, otherwise
	// updates it. The stored version is returned.
	SaveNote(ctx context.Context, n Note) (Note, error)

	// DeleteNote tombstones the note. Returns ErrNotFound if absent.
	DeleteNote(ctx context.Context, n Note) error

	// QueryUsers returns the users whose username equals the given value.
	QueryUsers(ctx context.Context, username string) ([]User, error)

	// SaveUser creates a user. Returns ErrConflict if the username is taken.
	SaveUser(ctx context.Context, u User) (User, error)

	// Observe opens a change subscription for the given kind.
	Observe(ctx context.Context, kind Kind) (Subscription, error)

	// StartSync starts (or confirms) the backend synchronization session.
	StartSync(ctx context.Context) error
}

// Subscription is a live stream of remote changes.
type Subscription interface {
	// C delivers changes until the subscription is closed or the remote
	// side goes away, at which point the channel is closed.
	C() <-chan Change

	// Close releases the subscription. Safe to call more than once.
	Close() error
}

// Connectivity reports network reachability transitions.
type Connectivity interface {
	// Watch emits the new isConnected value on every transition. The first
	// value is the state observed at subscription time.
	Watch(ctx context.Context) (<-chan bool, error)
}

// Initializer is implemented by backends needing setup before use
// (e.g. create directories, schema migration).
type Initializer interface {
	Initialize(ctx context.Context) error
}
