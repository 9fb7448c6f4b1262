package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyExists indicates a create collided with an existing record.
var ErrAlreadyExists = errors.New("repository: already exists")

// ErrConditionFailed indicates a conditional write found a different version than expected.
var ErrConditionFailed = errors.New("repository: condition failed")
