package tasks

import "github.com/hibiken/asynq"

// TaskEnqueuer is the interface for enqueuing background tasks. It's
// implemented by asynq.Client and mocked in tests.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
