package server

import (
	"time"

	"github.com/aretw0/notesync/pkg/core"
)

// NoteRequest is the body of PUT /v1/notes. An empty ID creates the note.
type NoteRequest struct {
	ID        string    `json:"id" validate:"omitempty,max=128"`
	Content   string    `json:"content" validate:"max=1000000"`
	OwnerID   string    `json:"ownerId" validate:"required,max=128"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Deleted   bool      `json:"_deleted,omitempty"`
}

func (r NoteRequest) toNote() core.Note {
	return core.Note{
		ID:        r.ID,
		Content:   r.Content,
		OwnerID:   r.OwnerID,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Deleted:   r.Deleted,
	}
}

// UserRequest is the body of POST /v1/users.
type UserRequest struct {
	ID       string `json:"id" validate:"omitempty,max=128"`
	Username string `json:"username" validate:"required,min=1,max=64"`
}

func (r UserRequest) toUser() core.User {
	return core.User{ID: r.ID, Username: r.Username}
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Streams int64  `json:"streams"`
}
