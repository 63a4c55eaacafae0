package service

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// KeyGenerator produces the short keys new URLs are stored under. The scheme
// behind the keys is opaque to the rest of the service; uniqueness is enforced
// by the store and handled with retries.
type KeyGenerator interface {
	// GenerateKey returns a new key of the given length.
	GenerateKey(length int) (string, error)
}

// NanoIDGenerator generates URL-safe random keys.
type NanoIDGenerator struct{}

func (NanoIDGenerator) GenerateKey(length int) (string, error) {
	return gonanoid.New(length)
}
