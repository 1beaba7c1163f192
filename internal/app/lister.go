package app

import (
	"context"

	"neptuneload/internal/checkpoint"
	"neptuneload/internal/worker"

	"go.uber.org/zap"
)

// LoadLister finds the loads a fan-out command works on
type LoadLister struct {
	newClient worker.ClientFactory
	store     checkpoint.Store
	logger    *zap.Logger
}

// ListActive returns the ids the endpoint reports.
func (l *LoadLister) ListActive(ctx context.Context) ([]string, error) {
	client, err := l.newClient()
	if err != nil {
		return nil, err
	}
	ids, err := client.ListActiveLoads(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info("Finished listing loads", zap.Int("total_loads", len(ids)))
	return ids, nil
}

// Tasks returns one task per load the endpoint reports. Sources are taken
// from the journal when it knows the load.
func (l *LoadLister) Tasks(ctx context.Context, action worker.Action) ([]worker.Task, error) {
	ids, err := l.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	tasks := make([]worker.Task, 0, len(ids))
	for _, id := range ids {
		task := worker.Task{LoadID: id, Action: action}
		if rec, err := l.store.GetLoad(id); err == nil && rec != nil {
			task.Source = rec.Source
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// PendingTasks returns a refresh task per load the journal still
// considers pending.
func (l *LoadLister) PendingTasks() ([]worker.Task, error) {
	records, err := l.store.ListPending()
	if err != nil {
		return nil, err
	}

	tasks := make([]worker.Task, 0, len(records))
	for _, rec := range records {
		l.logger.Debug("Enqueued load",
			zap.String("load_id", rec.LoadID),
			zap.String("status", rec.Status),
		)
		tasks = append(tasks, worker.Task{LoadID: rec.LoadID, Source: rec.Source, Action: worker.ActionRefresh})
	}
	return tasks, nil
}
