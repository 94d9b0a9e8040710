package beads

import "context"

// Validator answers "is this bead-id known and in a submittable state?"
// It is a thin wrapper over the Bead Tracker distinct from BT itself,
// exposing only Validate. The Dispatch Engine does not use it: it calls
// Validate through its own BeadTracker interface on the full Client.
type Validator struct {
	client *Client
}

// NewValidator wraps client.
func NewValidator(client *Client) *Validator {
	return &Validator{client: client}
}

// Validate reports whether beadID may be submitted or retried.
func (v *Validator) Validate(ctx context.Context, beadID string) (bool, string, error) {
	return v.client.Validate(ctx, beadID)
}
