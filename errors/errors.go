package errors

import "fmt"

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrExtensionPanic   = fmt.Errorf("extension panic")
	ErrConnectFailed    = fmt.Errorf("could not connect to room stream")
	ErrInvalidSession   = fmt.Errorf("invalid session info")
	ErrFatalConnect     = fmt.Errorf("fatal error while connecting")
	ErrRetriesExhausted = fmt.Errorf("reconnect attempts exhausted")
	ErrEventWithoutRoom = fmt.Errorf("event has no originating room")
	ErrInvalidFrame     = fmt.Errorf("frame is not a json object")
	ErrInvalidRoomSpec  = fmt.Errorf("invalid room specification")
	ErrRoomNotFound     = fmt.Errorf("room not found")
	ErrEmptyWords       = fmt.Errorf("no censored words loaded")
)
