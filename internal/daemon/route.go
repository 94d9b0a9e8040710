package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coven/busd/internal/dispatch"
	"github.com/coven/busd/internal/wire"
)

// route dispatches a parsed Request to the Dispatch Engine method
// its tool name, recording a metric for every call.
func (d *Daemon) route(ctx context.Context, req wire.Request) wire.Response {
	data, failed, err := d.dispatchTool(ctx, req)
	d.metrics.RecordToolCall(req.Tool, failed)

	if err != nil {
		return wire.Fail(req.ID, wire.ErrInvalidParams, err.Error())
	}
	if data == nil {
		return wire.Fail(req.ID, wire.ErrUnknownTool, fmt.Sprintf("unknown tool %q", req.Tool))
	}
	return wire.Ok(req.ID, data)
}

// resultFailed reports whether an Engine result represents a logical
// error, for metrics purposes only — every case here is still a
// transport-level success response.
func resultFailed(res any) bool {
	switch r := res.(type) {
	case dispatch.RegisterResult:
		return !r.Success
	case dispatch.PollResult:
		return r.Error != ""
	case dispatch.AckResult:
		return !r.Success
	case dispatch.SubmitResult:
		return r.Error != ""
	case dispatch.DoneResult:
		return !r.Success
	case dispatch.FailedResult:
		return !r.Success
	case dispatch.ResetResult:
		return !r.Success
	default:
		return false
	}
}

// dispatchTool decodes req.Params for the named tool and calls the
// matching Engine method. The bool return reports whether the Engine
// reported a logical error in its result (for metrics only — logical
// errors are still transport-level successes). A non-nil error means
// req.Params itself did not decode; a nil data with nil error means
// req.Tool is not one of the nine known tools.
func (d *Daemon) dispatchTool(ctx context.Context, req wire.Request) (any, bool, error) {
	switch req.Tool {
	case "register_worker":
		var p struct {
			Name string `json:"name"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.RegisterWorker(p.Name)
		return res, resultFailed(res), nil

	case "poll_task":
		var p struct {
			Name      string `json:"name"`
			TimeoutMs int64  `json:"timeout_ms"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.PollTask(ctx, p.Name, p.TimeoutMs)
		return res, resultFailed(res), nil

	case "ack_task":
		var p struct {
			Name   string `json:"name"`
			BeadID string `json:"bead_id"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.AckTask(ctx, p.Name, p.BeadID)
		return res, resultFailed(res), nil

	case "submit_task":
		var p struct {
			BeadID string `json:"bead_id"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.SubmitTask(ctx, p.BeadID)
		return res, resultFailed(res), nil

	case "worker_done":
		var p struct {
			BeadID string `json:"bead_id"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.WorkerDone(p.BeadID)
		return res, resultFailed(res), nil

	case "task_failed":
		var p struct {
			BeadID string `json:"bead_id"`
			Reason string `json:"reason"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.TaskFailed(ctx, p.BeadID, p.Reason)
		return res, resultFailed(res), nil

	case "reset_worker":
		var p struct {
			Name string `json:"name"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.ResetWorker(p.Name)
		return res, resultFailed(res), nil

	case "retry_task":
		var p struct {
			BeadID string `json:"bead_id"`
		}
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, false, err
		}
		res := d.engine.RetryTask(ctx, p.BeadID)
		return res, resultFailed(res), nil

	case "get_status":
		return d.engine.GetStatus(), false, nil

	default:
		return nil, false, nil
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
