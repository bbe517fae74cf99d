package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/loraspect/internal/lora"
)

// entry is one uploaded file. mu serialises requests against the file so an
// unload never races a reconstruction.
type entry struct {
	id      string
	size    int
	created time.Time

	mu   sync.Mutex
	file *lora.File
}

// FileStore holds uploaded files in memory until they are deleted.
type FileStore struct {
	mu    sync.Mutex
	files map[string]*entry
}

func NewFileStore() *FileStore {
	return &FileStore{
		files: make(map[string]*entry),
	}
}

func (s *FileStore) Create(file *lora.File, size int, now time.Time) *entry {
	e := &entry{
		id:      newFileID(),
		size:    size,
		created: now,
		file:    file,
	}
	s.mu.Lock()
	s.files[e.id] = e
	s.mu.Unlock()
	return e
}

func (s *FileStore) Get(id string) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.files[id]
	return e, ok
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Delete removes id and unloads its tensors.
func (s *FileStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.files[id]
	delete(s.files, id)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return true, e.file.Unload()
}

// Close unloads every stored file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	files := s.files
	s.files = make(map[string]*entry)
	s.mu.Unlock()

	var first error
	for _, e := range files {
		e.mu.Lock()
		if err := e.file.Unload(); err != nil && first == nil {
			first = err
		}
		e.mu.Unlock()
	}
	return first
}

func newFileID() string {
	return "file_" + uuid.NewString()
}
