package archive

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryArchiver keeps archived documents in memory. Used in tests and in
// deployments without a bucket configured.
type MemoryArchiver struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory returns an empty in-memory archiver.
func NewMemory() *MemoryArchiver {
	return &MemoryArchiver{objects: make(map[string][]byte)}
}

// Put stores a copy of data under path and returns a mem:// URI.
func (a *MemoryArchiver) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = append([]byte(nil), data...)
	return fmt.Sprintf("mem://%s", path), nil
}

// Get returns the stored document, or false when absent.
func (a *MemoryArchiver) Get(path string) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[path]
	return data, ok
}
