package ids

import (
	"github.com/google/uuid"

	"github.com/mcoot/rpsleague/internal/model"
)

// Generator mints identifiers that can be mocked for testing
type Generator interface {
	// NewGameID returns a fresh, globally unique game id
	NewGameID() model.GameID
}

// UUIDGenerator implements Generator with random (v4) UUIDs
type UUIDGenerator struct{}

// New creates a new UUIDGenerator
func New() *UUIDGenerator {
	return &UUIDGenerator{}
}

// NewGameID returns a random UUID game id
func (g *UUIDGenerator) NewGameID() model.GameID {
	return model.GameID(uuid.NewString())
}
