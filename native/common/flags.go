package common

import "sync"

// Flags is the mutable operational flag store backing PauseView and
// ShutdownView. The zero value is usable: nothing paused, shutdown inactive.
type Flags struct {
	mu       sync.RWMutex
	paused   map[string]bool
	shutdown bool
}

// NewFlags returns an empty flag store.
func NewFlags() *Flags {
	return &Flags{paused: make(map[string]bool)}
}

// SetPaused flips the pause flag for one module.
func (f *Flags) SetPaused(module string, paused bool) {
	if f == nil || module == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused == nil {
		f.paused = make(map[string]bool)
	}
	if paused {
		f.paused[module] = true
	} else {
		delete(f.paused, module)
	}
}

// IsPaused reports whether the module is paused.
func (f *Flags) IsPaused(module string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.paused[module]
}

// SetShutdown flips the global shutdown flag.
func (f *Flags) SetShutdown(active bool) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = active
}

// ShutdownActive reports whether the global shutdown flag is set.
func (f *Flags) ShutdownActive() bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.shutdown
}
