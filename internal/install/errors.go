package install

import "errors"

var (
	// ErrNoMapping means the game's platform is not mapped to a destination.
	ErrNoMapping = errors.New("game has no destination mapping")
	// ErrNoRomFiles means a finished variant left nothing to launch.
	ErrNoRomFiles = errors.New("no rom files found")
)
