package state_managers

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/sos-agent/internal/models"
	"github.com/benmeehan/sos-agent/pkg/file"
)

// SOSStateManager persists the last SOS outcome so it survives restarts.
type SOSStateManager struct {
	filePath   string
	fileClient file.FileOperations
	logger     zerolog.Logger
	mu         sync.Mutex
}

// NewSOSStateManager initializes a new SOSStateManager
func NewSOSStateManager(filePath string, fileClient file.FileOperations, logger zerolog.Logger) *SOSStateManager {
	return &SOSStateManager{
		filePath:   filePath,
		fileClient: fileClient,
		logger:     logger,
	}
}

// LoadState reads the stored state. A missing file yields an empty state.
func (sm *SOSStateManager) LoadState() (models.SOSState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var state models.SOSState
	if err := sm.fileClient.ReadJsonFile(sm.filePath, &state); err != nil {
		if os.IsNotExist(err) {
			return models.SOSState{}, nil
		}
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to read SOS state file")
		return models.SOSState{}, err
	}

	// an in-flight trigger cannot survive a restart
	state.IsTriggering = false
	return state, nil
}

// SaveState writes the state to the file
func (sm *SOSStateManager) SaveState(state models.SOSState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if err := sm.fileClient.WriteJsonFile(sm.filePath, state); err != nil {
		sm.logger.Error().Err(err).Str("file", sm.filePath).Msg("Failed to write SOS state file")
		return err
	}
	return nil
}
