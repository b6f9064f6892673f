package store

import "errors"

var (
	ErrEntryNotFound    = errors.New("store: entry not found")
	ErrNoEntries        = errors.New("store: log has no entries")
	ErrDocumentNotFound = errors.New("store: document not found")
	ErrViewNotFound     = errors.New("store: document view not found")
	ErrTaskNotFound     = errors.New("store: task not found")
)
