// Package progress tracks how far a user has advanced through the intake
// interview and derives the avatar session's system instruction from it.
//
// Progress is the index of the last answered question, persisted per user.
// A user who has never answered anything sits at [Unseen]; the next question
// to ask is always progress+1.
package progress

import "context"

// Unseen is the persisted progress of a user with no answered questions.
const Unseen = -1

// Store persists per-user interview progress.
type Store interface {
	// Get returns the user's progress, or [Unseen] when the user has no
	// record.
	Get(ctx context.Context, userID string) (int, error)

	// Track advances the user's progress by one and returns the new value.
	// A user with no record lands on 0.
	Track(ctx context.Context, userID string) (int, error)

	// Set overwrites the user's progress.
	Set(ctx context.Context, userID string, progress int) error
}
