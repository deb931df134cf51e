package handlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"multileg/internal/bot"
	"multileg/internal/models"
)

// ============ Mock Task Manager ============

// mockTask - минимальная задача для тестов handlers
type mockTask struct {
	tc models.TaskContext
}

func newMockTask(strategy, symbol, state string) *mockTask {
	tc := models.NewTaskContext("multileg", strategy, symbol, models.AllRoles)
	if state != models.StateIdle {
		tc = tc.Evolve(models.WithState(state))
	}
	return &mockTask{tc: tc}
}

func (m *mockTask) ID() string                  { return m.tc.TaskID }
func (m *mockTask) Symbol() string              { return m.tc.Symbol }
func (m *mockTask) Context() models.TaskContext { return m.tc }
func (m *mockTask) MarkClean(version uint64)    {}

func (m *mockTask) Process(ctx context.Context) models.TaskResult {
	return models.TaskResult{TaskID: m.tc.TaskID, State: m.tc.State}
}

func (m *mockTask) Cancel(ctx context.Context) error {
	m.tc = m.tc.Evolve(models.WithState(models.StateCancelled))
	return nil
}

// MockTaskManager - мок планировщика для TaskHandler
type MockTaskManager struct {
	tasks     map[string]bot.Task
	cancelErr error
	mu        sync.RWMutex
}

func NewMockTaskManager() *MockTaskManager {
	return &MockTaskManager{tasks: make(map[string]bot.Task)}
}

func (m *MockTaskManager) AddTask(task bot.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[task.ID()]; exists {
		return fmt.Errorf("task %s already registered", task.ID())
	}
	m.tasks[task.ID()] = task
	return nil
}

func (m *MockTaskManager) GetTask(taskID string) (bot.Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	return task, ok
}

func (m *MockTaskManager) Tasks() []bot.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tasks := make([]bot.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID() < tasks[j].ID() })
	return tasks
}

func (m *MockTaskManager) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}
	if err := task.Cancel(ctx); err != nil {
		return err
	}
	delete(m.tasks, taskID)
	return nil
}

// ============ Mock Journal Store ============

// MockJournalStore - мок журнала для JournalHandler
type MockJournalStore struct {
	events    []*models.JournalEvent
	summaries []*models.TaskSummary
	profit    float64
	err       error
}

func (m *MockJournalStore) GetRecentEvents(limit int) ([]*models.JournalEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > len(m.events) {
		limit = len(m.events)
	}
	return m.events[:limit], nil
}

func (m *MockJournalStore) GetEventsByTaskID(taskID string, limit int) ([]*models.JournalEvent, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.JournalEvent
	for _, e := range m.events {
		if e.TaskID == taskID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockJournalStore) GetSummariesByState(state string) ([]*models.TaskSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.TaskSummary
	for _, s := range m.summaries {
		if s.State == state {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockJournalStore) TotalProfit() (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.profit, nil
}
