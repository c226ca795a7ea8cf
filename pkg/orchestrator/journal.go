package orchestrator

import (
	"context"

	"github.com/rs/zerolog"
)

// journal is the in-memory rollback stack an orchestration protocol
// accumulates as it performs external side effects. unwind runs every
// registered action in LIFO order, best-effort: one action's failure
// is logged and does not stop the rest from running. The journal never
// survives a process crash — that's what the orphan-reconciliation
// cleanup operation is for.
type journal struct {
	actions []func(ctx context.Context) error
	logger  zerolog.Logger
}

func newJournal(logger zerolog.Logger) *journal {
	return &journal{logger: logger}
}

// push registers an inverse action to run if the orchestration fails
// after this point.
func (j *journal) push(action func(ctx context.Context) error) {
	j.actions = append(j.actions, action)
}

// unwind runs every registered action in LIFO order.
func (j *journal) unwind(ctx context.Context) {
	for i := len(j.actions) - 1; i >= 0; i-- {
		if err := j.actions[i](ctx); err != nil {
			j.logger.Warn().Err(err).Int("step", i).Msg("rollback action failed, continuing unwind")
		}
	}
}
