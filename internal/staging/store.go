// Package staging holds fully uploaded files in memory pending archive
// packaging.
package staging

import "sync"

// File is a completed upload. Bytes are never mutated after insertion.
type File struct {
	Name  string
	Size  int64
	Bytes []byte
}

// Store is an ordered collection of staged files. The lock is only held
// long enough to append or copy the slice header; packaging runs against
// a snapshot and may overlap with further insertions.
type Store struct {
	mu    sync.Mutex
	files []File
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Add appends a completed file.
func (s *Store) Add(f File) {
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
}

// Snapshot returns the current file list and the aggregate byte size.
// The returned slice is a copy; entries share the immutable byte
// contents.
func (s *Store) Snapshot() ([]File, int64) {
	s.mu.Lock()
	files := make([]File, len(s.files))
	copy(files, s.files)
	s.mu.Unlock()

	var total int64
	for _, f := range files {
		total += f.Size
	}
	return files, total
}

// Len returns the number of staged files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Clear drops all staged files and returns how many were removed.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.files)
	s.files = nil
	return n
}
