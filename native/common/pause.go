package common

import "errors"

var (
	// ErrModulePaused is returned when a guarded module refuses new work.
	ErrModulePaused = errors.New("module paused")
	// ErrShutdownInactive is returned when an operation requires the global
	// shutdown flag to be active.
	ErrShutdownInactive = errors.New("shutdown not active")
	// ErrShutdownActive is returned when the global shutdown flag blocks an
	// operation.
	ErrShutdownActive = errors.New("shutdown active")
)

// PauseView exposes the operational pause flags maintained by the
// administrative surface.
type PauseView interface {
	IsPaused(module string) bool
}

// ShutdownView exposes the global emergency shutdown flag.
type ShutdownView interface {
	ShutdownActive() bool
}

// Guard returns ErrModulePaused when the module is paused. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardShutdown blocks normal operations while the shutdown flag is active.
func GuardShutdown(s ShutdownView) error {
	if s == nil {
		return nil
	}
	if s.ShutdownActive() {
		return ErrShutdownActive
	}
	return nil
}

// RequireShutdown permits an operation only while the shutdown flag is active.
func RequireShutdown(s ShutdownView) error {
	if s == nil || !s.ShutdownActive() {
		return ErrShutdownInactive
	}
	return nil
}
