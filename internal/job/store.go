package job

import (
	"sync"

	"github.com/google/uuid"
)

// Store is an in-memory registry of jobs and their output audio.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	results map[string][]byte
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*Job),
		results: make(map[string][]byte),
	}
}

// Create registers a new job for an accepted upload.
func (s *Store) Create(filename, sourceLang, targetLang string) *Job {
	j := New(uuid.NewString(), filename, sourceLang, targetLang)
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()
	return j
}

// Get returns the job with the given ID.
func (s *Store) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// SaveResult stores completed output audio and returns its result ID.
func (s *Store) SaveResult(audio []byte) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.results[id] = audio
	s.mu.Unlock()
	return id
}

// Result returns the output audio for a result ID.
func (s *Store) Result(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	audio, ok := s.results[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return audio, nil
}
