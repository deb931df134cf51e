package bot

import (
	"errors"
	"sync"
	"testing"

	"multileg/internal/models"
)

type recordingSink struct {
	mu        sync.Mutex
	events    []*models.JournalEvent
	summaries []*models.TaskSummary
	err       error
}

func (s *recordingSink) RecordEvent(event *models.JournalEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) UpsertSummary(summary *models.TaskSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.summaries = append(s.summaries, summary)
	return nil
}

func TestJournalRecorder_RecordsTransitions(t *testing.T) {
	sink := &recordingSink{}
	recorder := NewJournalRecorder(sink, nil)

	tc := models.NewTaskContext("multileg", "basis", "BTC/USDT", models.AllRoles)
	recorder.BroadcastTaskUpdate(tc)

	// Первый снимок: перехода ещё нет, итог записан
	if len(sink.events) != 0 {
		t.Fatalf("expected no events on first update, got %d", len(sink.events))
	}
	if len(sink.summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(sink.summaries))
	}

	tc = tc.Evolve(models.WithState(models.StateInitializing))
	recorder.BroadcastTaskUpdate(tc)

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	event := sink.events[0]
	if event.FromState != models.StateIdle || event.ToState != models.StateInitializing {
		t.Errorf("unexpected transition %s -> %s", event.FromState, event.ToState)
	}
	if event.Version != tc.Version {
		t.Errorf("expected version %d, got %d", tc.Version, event.Version)
	}

	// Повторный снимок без смены состояния: события нет
	tc = tc.Evolve(models.WithCounters(models.Counters{Cycles: 1}))
	recorder.BroadcastTaskUpdate(tc)

	if len(sink.events) != 1 {
		t.Errorf("expected no new events on same-state update, got %d", len(sink.events))
	}
	if len(sink.summaries) != 3 {
		t.Errorf("expected 3 summaries, got %d", len(sink.summaries))
	}
}

func TestJournalRecorder_TerminalSetsFinishedAt(t *testing.T) {
	sink := &recordingSink{}
	recorder := NewJournalRecorder(sink, nil)

	tc := models.NewTaskContext("multileg", "basis", "BTC/USDT", models.AllRoles).
		Evolve(models.WithState(models.StateMonitoring))
	recorder.BroadcastTaskUpdate(tc)

	tc = tc.Evolve(models.WithState(models.StateCompleted))
	recorder.BroadcastTaskUpdate(tc)

	last := sink.summaries[len(sink.summaries)-1]
	if last.FinishedAt == nil {
		t.Error("expected finished_at on terminal summary")
	}
	if last.State != models.StateCompleted {
		t.Errorf("expected state %s, got %s", models.StateCompleted, last.State)
	}

	// Терминальная задача забыта: повторный запуск того же id
	// начнёт историю переходов заново
	recorder.mu.Lock()
	_, tracked := recorder.lastState[tc.TaskID]
	recorder.mu.Unlock()
	if tracked {
		t.Error("terminal task still tracked by recorder")
	}
}

func TestJournalRecorder_SinkErrorsDoNotPanic(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	recorder := NewJournalRecorder(sink, nil)

	tc := models.NewTaskContext("multileg", "basis", "BTC/USDT", models.AllRoles)
	recorder.BroadcastTaskUpdate(tc)
	recorder.BroadcastTaskUpdate(tc.Evolve(models.WithState(models.StateInitializing)))
}

func TestMultiBroadcaster_FansOut(t *testing.T) {
	first := &recordingSink{}
	second := &recordingSink{}
	multi := MultiBroadcaster{
		NewJournalRecorder(first, nil),
		nil, // nil приёмники пропускаются
		NewJournalRecorder(second, nil),
	}

	tc := models.NewTaskContext("multileg", "basis", "BTC/USDT", models.AllRoles)
	multi.BroadcastTaskUpdate(tc)

	if len(first.summaries) != 1 || len(second.summaries) != 1 {
		t.Errorf("expected both sinks to receive summary, got %d and %d",
			len(first.summaries), len(second.summaries))
	}
}
