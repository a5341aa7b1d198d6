package config

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadConfig wraps failures reading the config file or environment.
	ErrLoadConfig = errors.New("config: load")
	// ErrInvalidConfig marks a config that loaded but cannot run the service.
	ErrInvalidConfig = errors.New("config: invalid")

	// ErrUnknownStore reports a store_driver other than memory or sqlite.
	ErrUnknownStore = fmt.Errorf("%w: unknown store_driver", ErrInvalidConfig)
	// ErrNoSQLitePath reports the sqlite store selected without a file path.
	ErrNoSQLitePath = fmt.Errorf("%w: sqlite_path is required for the sqlite store", ErrInvalidConfig)
)
