package storage

import "errors"

var (
	// ErrMissingID is returned when a record has no ID
	ErrMissingID = errors.New("session record has no id")
	// ErrDuplicateRecord is returned when a record ID is already journaled
	ErrDuplicateRecord = errors.New("session already recorded")
	// ErrCorruptJournal is returned when the journal file cannot be decoded
	ErrCorruptJournal = errors.New("corrupt journal file")
)
