// Package ids supplies the default ports.IDGenerator for message envelopes.
package ids

import "github.com/google/uuid"

// Generator mirrors ports.IDGenerator without importing it, avoiding an
// import cycle from the root heromessaging package.
type Generator interface {
	NewID() string
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string { return uuid.NewString() }

// Default is the package-wide uuid-backed generator used when the host
// application does not supply its own.
var Default Generator = uuidGenerator{}
