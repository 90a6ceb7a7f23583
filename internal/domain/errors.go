package domain

import "errors"

// ErrAlreadyRecorded reports that an item id already has a published record.
var ErrAlreadyRecorded = errors.New("item already recorded")
