// Package core holds the domain model and the ports of the sync engine.
package core

import "time"

// Kind names an entity type known to the backend.
type Kind string

const (
	KindNote Kind = "note"
	KindUser Kind = "user"
)

// Note is a short text record owned by a User.
// A Note with Deleted set is a tombstone: it can still be fetched by ID
// but must never show up in list results.
type Note struct {
	ID            string    `json:"id" yaml:"id"`
	Content       string    `json:"content" yaml:"content"`
	OwnerID       string    `json:"ownerId" yaml:"owner_id"`
	CreatedAt     time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updated_at"`
	Deleted       bool      `json:"_deleted,omitempty" yaml:"deleted,omitempty"`
	Version       int       `json:"_version" yaml:"version"`
	LastChangedAt time.Time `json:"_lastChangedAt" yaml:"last_changed_at"`
}

// Live reports whether the note is not tombstoned.
func (n Note) Live() bool { return !n.Deleted }

// WithContent returns a copy of n carrying the new content and an UpdatedAt
// strictly after the previous one. ID, OwnerID and CreatedAt are preserved.
func (n Note) WithContent(content string, now time.Time) Note {
	out := n
	out.Content = content
	if !now.After(n.UpdatedAt) {
		now = n.UpdatedAt.Add(time.Microsecond)
	}
	out.UpdatedAt = now
	return out
}

// User is the owner identity. Username is the natural key.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	Username  string    `json:"username" yaml:"username"`
	CreatedAt time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updated_at"`
	Version   int       `json:"_version" yaml:"version"`
}

// Op is the kind of change carried by a subscription event.
type Op int

const (
	OpInserted Op = iota + 1
	OpUpdated
	OpDeleted
)

func (o Op) String() string {
	switch o {
	case OpInserted:
		return "INSERT"
	case OpUpdated:
		return "UPDATE"
	case OpDeleted:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ParseOp maps the wire name of an operation back to an Op.
func ParseOp(s string) (Op, bool) {
	switch s {
	case "INSERT":
		return OpInserted, true
	case "UPDATE":
		return OpUpdated, true
	case "DELETE":
		return OpDeleted, true
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(b []byte) error {
	op, ok := ParseOp(string(b))
	if !ok {
		return &OpError{Value: string(b)}
	}
	*o = op
	return nil
}

// OpError reports an unknown operation name.
type OpError struct{ Value string }

func (e *OpError) Error() string { return "unknown change op: " + e.Value }

// Change is a remote change notification.
type Change struct {
	Op        Op    `json:"op"`
	Note      Note  `json:"note"`
	Timestamp int64 `json:"ts"` // Unix timestamp
}

// String implements lifecycle.Event.
func (c Change) String() string {
	return c.Op.String() + " " + c.Note.ID
}
