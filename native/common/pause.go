package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module has been halted by the operator.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the module is halted. A nil view means no
// pause controls are wired and the operation may proceed.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
