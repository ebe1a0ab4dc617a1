package xerrors

import "errors"

var ErrNotFound = errors.New("not found")
