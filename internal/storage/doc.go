// Package storage persists questions, responses, slots and quiz posts.
//
// The contract is correctness, not performance: window queries may be plain
// scans. The one hard guarantee lives in the response write path, where
// (user_id, question_id) uniqueness is enforced atomically by the backend
// itself, never by check-then-insert in application code.
package storage
