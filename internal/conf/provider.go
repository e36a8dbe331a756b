package conf

import "sync"

// Provider supplies the current settings. Consumers call Settings once per
// unit of work and must not mutate the result.
type Provider interface {
	Settings() *Settings
}

// Store is a goroutine-safe Provider whose settings can be replaced at runtime.
type Store struct {
	mu       sync.RWMutex
	settings *Settings
}

// NewStore returns a Store holding settings.
func NewStore(settings *Settings) *Store {
	return &Store{settings: settings}
}

// Settings returns a snapshot of the current settings.
func (s *Store) Settings() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return nil
	}
	snapshot := *s.settings
	return &snapshot
}

// Update applies fn to a copy of the settings and swaps it in when the result
// validates.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := Settings{}
	if s.settings != nil {
		next = *s.settings
	}
	fn(&next)
	if err := ValidateSettings(&next); err != nil {
		return err
	}
	s.settings = &next
	return nil
}
