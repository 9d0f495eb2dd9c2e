package domain

import "errors"

var (
	// ErrValidation is returned when a required post field is blank.
	ErrValidation = errors.New("title and content are required")

	// ErrUpload is returned when a selected cover image could not be stored.
	ErrUpload = errors.New("image upload failed")

	// ErrWrite is returned when the post store rejected a create or update.
	ErrWrite = errors.New("post write failed")

	// ErrNotFound is returned when a post does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrForbidden is returned when the current user may not modify a post.
	ErrForbidden = errors.New("permission denied")

	// ErrSignedOut is returned when an operation needs a signed-in user.
	ErrSignedOut = errors.New("not signed in")

	// ErrSubmitting is returned while a previous submission is in flight.
	ErrSubmitting = errors.New("submission already in progress")

	// ErrClosed is returned by a composer that already completed.
	ErrClosed = errors.New("composer is closed")

	// ErrImageSourceInUse is returned when selecting one cover image source
	// while the other one is active.
	ErrImageSourceInUse = errors.New("another image source is already selected")

	// ErrAlreadyActive is returned when activating a feed twice.
	ErrAlreadyActive = errors.New("feed is already active")
)
