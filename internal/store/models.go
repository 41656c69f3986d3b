package store

import "time"

type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ContactMessage struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Message   string
	Status    string // new, read, archived
	CreatedAt time.Time
}

// ContentBackup is a point-in-time snapshot of the published site content,
// taken before destructive operations like reset or restore.
type ContentBackup struct {
	ID        int64
	Version   int64
	Snapshot  []byte
	Note      string
	CreatedBy string
	CreatedAt time.Time
}
