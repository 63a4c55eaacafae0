package database

import "errors"

var (
	// ErrShortURLExists is returned when an attempt is made to save
	// a new short URL under a key that already exists.
	ErrShortURLExists = errors.New("short url exists")
	// ErrShortURLNotFound is returned when an attempt is made to retrieve
	// a short URL using a key that doesn't exist.
	ErrShortURLNotFound = errors.New("short url not found")
)
