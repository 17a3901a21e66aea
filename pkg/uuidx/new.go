package uuidx

import "github.com/google/uuid"

// New returns a version 7 UUID. Version 7 UUIDs sort by creation time, which
// keeps connection IDs in accept order in logs.
// It panics if the random source fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString returns New() in its canonical string form.
func NewString() string {
	return New().String()
}

// Short returns the trailing random segment of a UUID string, for compact log
// lines. Strings that are not UUIDs are returned unchanged.
func Short(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	s := u.String()
	return s[len(s)-12:]
}
