package transport

import (
	"context"
	"sync/atomic"
)

// Conn is one physical connection to an exchange. ReadMessage is called from a
// single reader goroutine; every other method is called from the session loop.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Ping() error
	// SetKeepaliveHandler registers fn to be called on transport level keepalives such as pongs.
	SetKeepaliveHandler(fn func())
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// GenerationSource hands out connection generation ids. Share one source
// between sessions so a recreated session never reuses an id.
type GenerationSource struct {
	last atomic.Uint64
}

// NewGenerationSource hands out ids after seed. Seeding with the start time keeps
// the ids of a restarted process above the ones it stored before.
func NewGenerationSource(seed uint64) *GenerationSource {
	g := &GenerationSource{}
	g.last.Store(seed)
	return g
}

func (g *GenerationSource) Next() uint64 {
	return g.last.Add(1)
}
