package approval

import (
	"github.com/MEKXH/gatekeep/internal/state"
)

const storeFile = "pending_actions.json"

type fileData struct {
	Actions []PendingAction `json:"actions"`
}

// Store persists pending actions as a single JSON document.
type Store struct {
	doc state.Document
}

// NewStore creates an approval store under <workspace>/state/pending_actions.json.
func NewStore(workspace string) *Store {
	return &Store{doc: state.NewDocument(workspace, storeFile)}
}

// Path returns the ledger file location.
func (s *Store) Path() string {
	return s.doc.Path()
}

// Load reads persisted data from disk. A missing file is an empty ledger.
func (s *Store) Load() (fileData, error) {
	var data fileData
	if _, err := s.doc.Load(&data); err != nil {
		return fileData{}, err
	}
	if data.Actions == nil {
		data.Actions = []PendingAction{}
	}
	return data, nil
}

// Save writes persisted data to disk.
func (s *Store) Save(data fileData) error {
	if data.Actions == nil {
		data.Actions = []PendingAction{}
	}
	return s.doc.Save(data)
}
