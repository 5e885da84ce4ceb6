package server

import "errors"

var (
	ErrRuntimeClosed         = errors.New("runtime is closed")
	ErrRuntimeAlreadyRunning = errors.New("runtime is already running")
	ErrServerDisconnected    = errors.New("server connection lost")
	ErrUnknownGroup          = errors.New("unknown permission group")
)
