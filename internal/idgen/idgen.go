// Package idgen isolates github.com/google/uuid behind a small interface,
// the same seam-via-interface trick the teacher uses for its
// rules.GeoResolver and rules.Notifier collaborators, so tests can inject
// deterministic ids instead of patching a global generator.
package idgen

import "github.com/google/uuid"

// Generator mints opaque unique string identifiers.
type Generator interface {
	NewID() string
}

// UUIDGenerator mints RFC 4122 v4 uuids.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Default is the production Generator.
var Default Generator = UUIDGenerator{}
