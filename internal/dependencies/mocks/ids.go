package mocks

import (
	"fmt"
	"sync"

	"github.com/mcoot/rpsleague/internal/dependencies/ids"
	"github.com/mcoot/rpsleague/internal/model"
)

// MockIDs is a mock implementation of ids.Generator for testing
type MockIDs struct {
	mu      sync.Mutex
	gameIDs []model.GameID
	index   int
	minted  int
}

// Ensure MockIDs implements Generator
var _ ids.Generator = (*MockIDs)(nil)

// NewMockIDs creates a new MockIDs
func NewMockIDs() *MockIDs {
	return &MockIDs{}
}

// NewGameID returns the next queued id, or a sequential "game-N" once the queue is drained
func (m *MockIDs) NewGameID() model.GameID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index < len(m.gameIDs) {
		id := m.gameIDs[m.index]
		m.index++
		return id
	}
	m.minted++
	return model.GameID(fmt.Sprintf("game-%d", m.minted))
}

// QueueGameIDs adds values to the NewGameID result queue
func (m *MockIDs) QueueGameIDs(values ...model.GameID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gameIDs = append(m.gameIDs, values...)
}
