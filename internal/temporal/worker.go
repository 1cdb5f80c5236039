// Package temporal registers the LLM Review Worker's job-processing loop as
// a Temporal workflow/activity pair. Each activity execution claims and
// processes the next pending job itself, so a job whose activity crashes
// stays claimed until the store's stuck-job release returns it to pending.
package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/48Nauts-Operator/lineary/internal/review"
)

// pollBatchSize bounds how many activity executions a single workflow run
// accumulates in its history before continuing as new.
const pollBatchSize = 200

// idleSleep is how long ReviewPollWorkflow waits after an empty claim before
// trying again.
const idleSleep = 2 * time.Second

// Activities holds the dependency the registered activity methods close
// over. A nil *Activities is also used as a method-value receiver from
// workflow code, which only needs the method's name, never the receiver's
// state, to schedule it.
type Activities struct {
	Reviewer *review.Worker
}

// ProcessReviewJobActivity claims and processes a single review job. It
// reports whether a job was found so the workflow can decide whether to
// sleep before retrying.
func (a *Activities) ProcessReviewJobActivity(ctx context.Context) (bool, error) {
	return a.Reviewer.ProcessNext(ctx)
}

// ReviewPollWorkflow drives ProcessReviewJobActivity in a loop, continuing
// as a new execution every pollBatchSize iterations to keep workflow
// history bounded.
func ReviewPollWorkflow(ctx workflow.Context) error {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var acts *Activities
	for i := 0; i < pollBatchSize; i++ {
		var processed bool
		if err := workflow.ExecuteActivity(ctx, acts.ProcessReviewJobActivity).Get(ctx, &processed); err != nil {
			return err
		}
		if !processed {
			if err := workflow.Sleep(ctx, idleSleep); err != nil {
				return err
			}
		}
	}
	return workflow.NewContinueAsNewError(ctx, ReviewPollWorkflow)
}

// StartWorker connects to a Temporal server and runs a worker that executes
// ReviewPollWorkflow against reviewer. It blocks until the worker is
// interrupted, so callers run it in its own goroutine.
func StartWorker(hostPort, taskQueue string, reviewer *review.Worker) error {
	c, err := client.Dial(client.Options{HostPort: hostPort})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})

	acts := &Activities{Reviewer: reviewer}
	w.RegisterWorkflow(ReviewPollWorkflow)
	w.RegisterActivity(acts.ProcessReviewJobActivity)

	if _, err := c.ExecuteWorkflow(context.Background(), client.StartWorkflowOptions{
		ID:        "lineary-review-poll",
		TaskQueue: taskQueue,
	}, ReviewPollWorkflow); err != nil {
		return err
	}

	return w.Run(worker.InterruptCh())
}
