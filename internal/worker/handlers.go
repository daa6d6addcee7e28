package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/flowgraph/internal/mq"
	"github.com/shaiso/flowgraph/internal/runner"
)

// handleRunRequested выполняет workflow из сообщения run.requested.
func (w *Worker) handleRunRequested(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.RunRequestedPayload](msg)
	if err != nil {
		return err
	}
	if payload.Workflow == nil {
		return fmt.Errorf("%w: %w", mq.ErrPermanent, ErrNoWorkflow)
	}

	logger := w.logger.With(
		"request_id", payload.RequestID,
		"workflow", payload.Workflow.Name,
		"source", payload.Source,
	)
	logger.Info("run requested")

	run, _, err := w.runner.RunWithID(ctx, payload.RequestID, payload.Workflow, payload.Inputs)
	switch {
	case err == nil:
		logger.Info("run processed", "run_id", run.ID, "status", run.Status)
		return nil

	case errors.Is(err, runner.ErrDuplicateRun):
		logger.Info("run already recorded, skipping")
		return nil

	case errors.Is(err, runner.ErrInvalidWorkflow):
		return fmt.Errorf("%w: %w", mq.ErrPermanent, err)

	default:
		return err
	}
}
