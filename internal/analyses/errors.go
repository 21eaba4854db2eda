package analyses

import "errors"

var ErrNotFound = errors.New("not found")
