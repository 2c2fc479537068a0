package repository

import "errors"

// ErrClosed is returned by repositories whose underlying handle has been released.
var ErrClosed = errors.New("repository closed")
