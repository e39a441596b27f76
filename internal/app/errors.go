package service

import "errors"

// Sentinel errors for pipeline runs.
var (
	ErrNoRecords        = errors.New("no raw records")
	ErrSchemaIncomplete = errors.New("schema lacks a key column")
)
