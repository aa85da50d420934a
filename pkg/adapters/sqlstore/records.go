package sqlstore

import (
	"time"

	"github.com/aretw0/notesync/pkg/core"
)

// noteRecord is the persisted form of a core.Note.
type noteRecord struct {
	ID            string    `gorm:"primaryKey"`
	Content       string    `gorm:"not null"`
	OwnerID       string    `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false"`
	Deleted       bool      `gorm:"not null;default:false"`
	Version       int       `gorm:"not null"`
	LastChangedAt time.Time `gorm:"not null"`
}

func (noteRecord) TableName() string { return "notes" }

// userRecord is the persisted form of a core.User.
type userRecord struct {
	ID        string    `gorm:"primaryKey"`
	Username  string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:false"`
	Version   int       `gorm:"not null"`
}

func (userRecord) TableName() string { return "users" }

func fromNote(n core.Note) noteRecord {
	return noteRecord{
		ID:            n.ID,
		Content:       n.Content,
		OwnerID:       n.OwnerID,
		CreatedAt:     n.CreatedAt.UTC(),
		UpdatedAt:     n.UpdatedAt.UTC(),
		Deleted:       n.Deleted,
		Version:       n.Version,
		LastChangedAt: n.LastChangedAt.UTC(),
	}
}

func (r noteRecord) toNote() core.Note {
	return core.Note{
		ID:            r.ID,
		Content:       r.Content,
		OwnerID:       r.OwnerID,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		Deleted:       r.Deleted,
		Version:       r.Version,
		LastChangedAt: r.LastChangedAt.UTC(),
	}
}

func fromUser(u core.User) userRecord {
	return userRecord{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt.UTC(),
		UpdatedAt: u.UpdatedAt.UTC(),
		Version:   u.Version,
	}
}

func (r userRecord) toUser() core.User {
	return core.User{
		ID:        r.ID,
		Username:  r.Username,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
		Version:   r.Version,
	}
}
