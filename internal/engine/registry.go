package engine

import "sync"

var registry = struct {
	mu    sync.Mutex
	names map[string]*Supervisor
}{names: make(map[string]*Supervisor)}

func claimName(name string, s *Supervisor) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if owner, ok := registry.names[name]; ok && owner != s {
		return false
	}
	registry.names[name] = s
	return true
}

func releaseName(name string, s *Supervisor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.names[name] == s {
		delete(registry.names, name)
	}
}
