package redraft

import (
	"context"

	"github.com/oraraka-deko/redraft/llm"
)

// updateHistory appends the final user and assistant turns, distills the
// document context and persists the turns. Distillation and persistence
// failures are logged and reported as "context not updated"; they never
// fail the run. A run that searched records one more usage unit.
func (r *run) updateHistory(ctx context.Context, text string) ([]Turn, ContextUpdate) {
	history := make([]Turn, 0, len(r.req.History)+2)
	history = append(history, r.req.History...)
	history = append(history, r.userTurn(), Turn{Role: llm.RoleAssistant, Content: text})

	r.em.status("Updating document context...", nil)

	var upd ContextUpdate
	if r.o.distiller != nil {
		u, err := r.o.distiller.Distill(ctx, r.req.DocumentID, history)
		r.o.rec.ContextDistilled(err == nil && u.Updated, err)
		if err != nil {
			r.log.Warn().Err(err).Msg("context distillation failed")
		} else {
			upd = u
		}
	}

	if r.o.history != nil {
		if err := r.o.history.AppendTurns(ctx, r.req.DocumentID, history[len(history)-2:]); err != nil {
			r.log.Warn().Err(err).Msg("persist history failed")
		}
	}

	if r.search != nil && r.search.used() && r.req.UserID != "" {
		if err := r.o.router.RecordSearchUsage(ctx, r.req.UserID); err != nil {
			r.log.Warn().Err(err).Msg("record search usage failed")
		}
	}
	return history, upd
}
