package bot

import (
	"sync"
	"time"

	"multileg/internal/models"
	"multileg/pkg/utils"
)

// JournalSink - приёмник аудиторского журнала исполнения.
// Реализуется repository.JournalRepository. Журнал опционален:
// источником истины для восстановления остаются файловые снимки.
type JournalSink interface {
	RecordEvent(event *models.JournalEvent) error
	UpsertSummary(summary *models.TaskSummary) error
}

// JournalRecorder пишет переходы состояний и итоги задач в журнал.
// Реализует TaskBroadcaster: встаёт в цепочку рассылки рядом с
// websocket hub'ом через MultiBroadcaster.
type JournalRecorder struct {
	sink   JournalSink
	logger *utils.Logger

	// Последнее виденное состояние каждой задачи: переход пишется
	// только при его смене, итог - на каждый dirty-контекст
	mu        sync.Mutex
	lastState map[string]string
}

// NewJournalRecorder создаёт рекордер журнала
func NewJournalRecorder(sink JournalSink, logger *utils.Logger) *JournalRecorder {
	if logger == nil {
		logger = utils.L()
	}
	return &JournalRecorder{
		sink:      sink,
		logger:    logger.WithComponent("journal"),
		lastState: make(map[string]string),
	}
}

// BroadcastTaskUpdate записывает dirty-контекст в журнал.
// Ошибки БД логируются и не влияют на исполнение.
func (r *JournalRecorder) BroadcastTaskUpdate(tc models.TaskContext) {
	r.mu.Lock()
	last, seen := r.lastState[tc.TaskID]
	r.lastState[tc.TaskID] = tc.State
	if models.IsTerminal(tc.State) {
		delete(r.lastState, tc.TaskID)
	}
	r.mu.Unlock()

	if seen && last != tc.State {
		event := &models.JournalEvent{
			TaskID:    tc.TaskID,
			Symbol:    tc.Symbol,
			FromState: last,
			ToState:   tc.State,
			Version:   tc.Version,
			Detail:    tc.LastError,
		}
		if err := r.sink.RecordEvent(event); err != nil {
			r.logger.Warn("failed to record journal event",
				utils.TaskID(tc.TaskID),
				utils.Err(err))
		}
	}

	summary := &models.TaskSummary{
		TaskID:    tc.TaskID,
		Symbol:    tc.Symbol,
		Strategy:  tc.Strategy,
		State:     tc.State,
		Cycles:    tc.Counters.Cycles,
		Volume:    tc.Counters.Volume,
		Profit:    tc.Counters.Profit,
		LastError: tc.LastError,
	}
	if models.IsTerminal(tc.State) {
		now := time.Now().UTC()
		summary.FinishedAt = &now
	}
	if err := r.sink.UpsertSummary(summary); err != nil {
		r.logger.Warn("failed to upsert task summary",
			utils.TaskID(tc.TaskID),
			utils.Err(err))
	}
}

// MultiBroadcaster рассылает обновление нескольким приёмникам
type MultiBroadcaster []TaskBroadcaster

func (m MultiBroadcaster) BroadcastTaskUpdate(tc models.TaskContext) {
	for _, b := range m {
		if b != nil {
			b.BroadcastTaskUpdate(tc)
		}
	}
}
