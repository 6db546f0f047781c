package storage

import "errors"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNoNotifyConn is returned by Listen and WaitForNotification when the
// listen connection was not configured.
var ErrNoNotifyConn = errors.New("storage: notify connection not configured")
