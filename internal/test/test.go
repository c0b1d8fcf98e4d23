package test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"pod-optimizer/internal/db"
)

// MockTaskEnqueuer is a mock implementation of tasks.TaskEnqueuer for testing.
type MockTaskEnqueuer struct {
	EnqueuedTasks []*asynq.Task
	EnqueuedOpts  [][]asynq.Option
	EnqueueErr    error
}

func (m *MockTaskEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.EnqueueErr != nil {
		return nil, m.EnqueueErr
	}
	m.EnqueuedTasks = append(m.EnqueuedTasks, task)
	m.EnqueuedOpts = append(m.EnqueuedOpts, opts)
	return &asynq.TaskInfo{ID: "test-task-id", Queue: "default"}, nil
}

// HasOption reports whether the nth enqueue carried an option of the given
// type, e.g. asynq.TimeoutOpt.
func (m *MockTaskEnqueuer) HasOption(n int, optType asynq.OptionType) bool {
	if n >= len(m.EnqueuedOpts) {
		return false
	}
	for _, opt := range m.EnqueuedOpts[n] {
		if opt.Type() == optType {
			return true
		}
	}
	return false
}

func NewMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	sqlxDB := sqlx.NewDb(mockDb, "sqlmock")

	originalDB := db.DB
	db.DB = sqlxDB
	t.Cleanup(func() {
		db.DB = originalDB
		mockDb.Close()
	})

	return sqlxDB, mock
}
