// Package beads wraps the external bead-tracking CLI ("bd") that the
// daemon treats as an opaque collaborator: it shells out to bd show / bd
// update and parses JSON output, and never retries a failed call. It
// exposes only the three operations the Dispatch Engine needs (validate,
// set in-progress, mark blocked) plus a bounded per-call timeout, so a
// wedged bd process can never block every other handler indefinitely.
package beads

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// DefaultCallTimeout bounds a single bd invocation. BT calls run on the
// single serializing execution context, so a hung bd process would
// otherwise block every other handler indefinitely.
const DefaultCallTimeout = 10 * time.Second

// Client shells out to the bd CLI for a single project's working tree.
type Client struct {
	workDir string
	bdPath  string
	timeout time.Duration
}

// NewClient creates a client rooted at workDir, invoking "bd" from PATH.
func NewClient(workDir string) *Client {
	return &Client{workDir: workDir, bdPath: "bd", timeout: DefaultCallTimeout}
}

// SetBdPath overrides the bd binary path (tests point this at a stub).
func (c *Client) SetBdPath(path string) { c.bdPath = path }

// SetTimeout overrides the per-call timeout (tests shrink this).
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// showOutput mirrors the subset of `bd show --json` this daemon reads.
type showOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error"`
}

// Validate answers whether beadID is known to BT and in a state
// acceptable for submission or retry.
func (c *Client) Validate(ctx context.Context, beadID string) (bool, string, error) {
	out, err := c.run(ctx, "show", beadID, "--json")
	if err != nil {
		return false, "", fmt.Errorf("beads: validate %s: %w", beadID, err)
	}

	var res showOutput
	if err := json.Unmarshal(out, &res); err != nil {
		return false, "", fmt.Errorf("beads: parse bd show output: %w", err)
	}
	if res.Error != "" {
		return false, res.Error, nil
	}
	return true, "", nil
}

// SetInProgress transitions beadID to in-progress. Any failure is
// surfaced verbatim; ack_task rolls back worker state on this error.
func (c *Client) SetInProgress(ctx context.Context, beadID string) error {
	if _, err := c.run(ctx, "update", beadID, "--status=in_progress"); err != nil {
		return fmt.Errorf("beads: set in-progress %s: %w", beadID, err)
	}
	return nil
}

// MarkBlocked transitions beadID to blocked with reason.
func (c *Client) MarkBlocked(ctx context.Context, beadID, reason string) error {
	if _, err := c.run(ctx, "update", beadID, "--status=blocked", "--reason="+reason); err != nil {
		return fmt.Errorf("beads: mark blocked %s: %w", beadID, err)
	}
	return nil
}

// run executes a bd subcommand under the client's timeout and returns
// its stdout.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, c.bdPath, args...)
	cmd.Dir = c.workDir

	out, err := cmd.Output()
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("bd %v timed out after %s", args, c.timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("bd %v failed: %s", args, string(exitErr.Stderr))
		}
		return nil, err
	}
	return out, nil
}
