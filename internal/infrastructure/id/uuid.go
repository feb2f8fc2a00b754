package id

import "github.com/google/uuid"

// UUID generates random (version 4) identifiers.
type UUID struct{}

func NewUUID() UUID { return UUID{} }

func (UUID) NewID() string { return uuid.NewString() }

// Sequence hands out the same identifiers in order; handy for fixtures.
type Sequence struct {
	ids  []string
	next int
}

func NewSequence(ids ...string) *Sequence { return &Sequence{ids: ids} }

// NewID returns the next identifier and falls back to a UUID once the list is used up.
func (s *Sequence) NewID() string {
	if s.next >= len(s.ids) {
		return uuid.NewString()
	}
	id := s.ids[s.next]
	s.next++
	return id
}
