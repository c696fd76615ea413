package quiz

import "errors"

var (
	// ErrValidation rejects bad input before any state is mutated.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a referenced slot or question is absent.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateSlot rejects a second slot with the same name.
	ErrDuplicateSlot = errors.New("slot name already exists")
	// ErrLastSlot rejects removing the only remaining active slot.
	ErrLastSlot = errors.New("cannot remove the last active slot")
	// ErrDuplicateResponse rejects a second answer from the same user to the
	// same question; the stored response stays untouched.
	ErrDuplicateResponse = errors.New("user already answered this question")
	// ErrNoQuestion indicates a slot fired with no unposted question queued.
	ErrNoQuestion = errors.New("no unposted question for slot")
)
