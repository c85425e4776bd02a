package tasks

import (
	"github.com/MEKXH/gatekeep/internal/state"
)

const storeFile = "task_queue.json"

type fileData struct {
	Tasks []Task `json:"tasks"`
}

// Store persists tasks as a single JSON document.
type Store struct {
	doc state.Document
}

// NewStore creates a task store under <workspace>/state/task_queue.json.
func NewStore(workspace string) *Store {
	return &Store{doc: state.NewDocument(workspace, storeFile)}
}

// Path returns the queue file location.
func (s *Store) Path() string {
	return s.doc.Path()
}

// Load reads persisted tasks. A missing file is an empty queue.
func (s *Store) Load() (fileData, error) {
	var data fileData
	if _, err := s.doc.Load(&data); err != nil {
		return fileData{}, err
	}
	if data.Tasks == nil {
		data.Tasks = []Task{}
	}
	return data, nil
}

// Save writes persisted tasks.
func (s *Store) Save(data fileData) error {
	if data.Tasks == nil {
		data.Tasks = []Task{}
	}
	return s.doc.Save(data)
}
