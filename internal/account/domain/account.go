package domain

import "time"

type Status string

const (
	StatusActive      Status = "active"
	StatusDeactivated Status = "deactivated"
)

// Account is the durable record for a provisioned identity. RepoCID and
// RepoRev reference the head commit owned by the repository store.
type Account struct {
	DID          string
	Handle       string
	Email        string
	PasswordHash string
	RepoCID      string
	RepoRev      string
	Status       Status
	CreatedAt    time.Time
}

func (a Account) Deactivated() bool {
	return a.Status == StatusDeactivated
}

// RefreshToken is the stored half of a session: the raw token never
// touches the database, only its hash.
type RefreshToken struct {
	ID        string
	TokenHash string
	DID       string
	ExpiresAt time.Time
	CreatedAt time.Time
}
