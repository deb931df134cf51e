package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"multileg/internal/config"
	"multileg/internal/models"
	"multileg/internal/persist"
	"multileg/pkg/utils"
)

// ============================================================
// Scheduler - кооперативный планировщик задач
// ============================================================
//
// Архитектура тика:
//  1. снимок зарегистрированных задач
//  2. группировка по символу
//  3. группы символов исполняются параллельно, задачи внутри
//     символа - последовательно под мьютексом символа
//  4. dirty-контексты уходят в персистенцию
//  5. терминальные задачи архивируются и снимаются с учёта
//
// Инварианты:
//  - две задачи одного символа никогда не исполняются одновременно
//  - паника одной задачи не валит тик (ловится в Process)
//  - планировщик не блокируется на обработчике дольше HandlerTimeout

// TaskBroadcaster рассылает обновления задач операторским клиентам.
// Реализуется пакетом internal/websocket.
type TaskBroadcaster interface {
	BroadcastTaskUpdate(tc models.TaskContext)
}

// SchedulerDeps - зависимости планировщика
type SchedulerDeps struct {
	Store    *persist.Store
	Registry *Registry
	Notify   chan<- models.Notification
	Hub      TaskBroadcaster
	Logger   *utils.Logger
}

// Scheduler - планировщик арбитражных задач
type Scheduler struct {
	cfg  config.SchedulerConfig
	deps SchedulerDeps

	logger *utils.Logger

	// Зарегистрированные задачи: task_id -> Task
	tasks   map[string]Task
	tasksMu sync.RWMutex

	// Мьютексы взаимного исключения по символам.
	// sync.Map: символы добавляются редко, читаются каждый тик.
	symbolLocks sync.Map // symbol -> *sync.Mutex

	shutdown chan struct{}
	done     chan struct{}

	runMu    sync.Mutex
	running  bool
	stopping bool

	// Срок хранения архивных снимков; 0 - значение по умолчанию.
	// Свой мьютекс: retention() читается из цикла тиков, runMu
	// здесь брать нельзя
	retentionMu       sync.Mutex
	retentionOverride time.Duration
}

// NewScheduler создаёт планировщик
func NewScheduler(cfg config.SchedulerConfig, deps SchedulerDeps) *Scheduler {
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithComponent("scheduler"),
		tasks:  make(map[string]Task),
	}
}

// ============================================================
// Управление задачами
// ============================================================

// AddTask регистрирует задачу. Повторная регистрация того же
// task_id - ошибка: идентификатор детерминирован, дубликат
// означает что такая задача уже работает.
func (s *Scheduler) AddTask(task Task) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if _, exists := s.tasks[task.ID()]; exists {
		return fmt.Errorf("task %s already registered", task.ID())
	}
	s.tasks[task.ID()] = task

	s.logger.Info("task registered",
		utils.TaskID(task.ID()),
		utils.Symbol(task.Symbol()))
	return nil
}

// RemoveTask снимает задачу с учёта (без отмены ордеров)
func (s *Scheduler) RemoveTask(taskID string) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	delete(s.tasks, taskID)
}

// GetTask возвращает задачу по id
func (s *Scheduler) GetTask(taskID string) (Task, bool) {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()
	task, ok := s.tasks[taskID]
	return task, ok
}

// Tasks возвращает снимок всех задач, отсортированный по id
func (s *Scheduler) Tasks() []Task {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID() < tasks[j].ID() })
	return tasks
}

// CancelTask синхронно отменяет задачу и архивирует её контекст
func (s *Scheduler) CancelTask(ctx context.Context, taskID string) error {
	task, ok := s.GetTask(taskID)
	if !ok {
		return fmt.Errorf("task %s not found", taskID)
	}

	// Под мьютексом символа: отмена не должна гоняться с тиком
	lock := s.lockForSymbol(task.Symbol())
	lock.Lock()
	defer lock.Unlock()

	cancelErr := task.Cancel(ctx)

	// Терминальный контекст (CANCELLED или ERROR) архивируется сразу
	s.persistTask(task)
	s.archiveIfTerminal(task)

	return cancelErr
}

// ============================================================
// Жизненный цикл
// ============================================================

// Start запускает цикл тиков.
// При recover=true сперва восстанавливает задачи из стора.
func (s *Scheduler) Start(recover bool) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if recover {
		if err := s.recoverTasks(); err != nil {
			return err
		}
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	s.stopping = false

	go s.run()

	s.logger.Info("scheduler started",
		utils.Any("tick", s.cfg.TickInterval.String()),
		utils.Int("tasks", len(s.Tasks())))
	return nil
}

// recoverTasks восстанавливает и регистрирует задачи из стора
func (s *Scheduler) recoverTasks() error {
	if s.deps.Store == nil || s.deps.Registry == nil {
		return nil
	}

	result, err := RecoverTasks(s.deps.Store, s.deps.Registry, s.logger)
	if err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	for _, task := range result.Recovered {
		if err := s.AddTask(task); err != nil {
			s.logger.Warn("recovered task not registered", utils.TaskID(task.ID()), utils.Err(err))
		}
	}

	NotifyRecovery(s.deps.Notify, result)
	return nil
}

// Stop останавливает цикл тиков и дожидается завершения текущего тика.
//
// runMu не держится на время ожидания: цикл тиков может как раз
// выполнять долгий тик или зачистку. Таймаут ожидания оставляет
// планировщик в running - повторный Stop дождётся того же done
// без повторного close(shutdown).
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.shutdown)
	}
	done := s.done
	s.runMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}

	s.runMu.Lock()
	s.running = false
	s.stopping = false
	s.runMu.Unlock()

	s.logger.Info("scheduler stopped")
	return nil
}

// run - главный цикл тиков
func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	sweeper := time.NewTicker(s.cfg.SweepInterval)
	defer sweeper.Stop()

	for {
		select {
		case <-s.shutdown:
			// Последний шанс записать dirty-контексты
			s.flushAll()
			return
		case <-ticker.C:
			s.Tick()
		case <-sweeper.C:
			s.CleanupPersistence()
		}
	}
}

// ============================================================
// Тик
// ============================================================

// Tick исполняет одну итерацию планировщика.
// Экспортирован: тесты и ручное управление дёргают тик напрямую.
func (s *Scheduler) Tick() {
	start := time.Now()
	SchedulerTicks.Inc()

	// Снимок задач, сгруппированный по символу
	groups := make(map[string][]Task)
	for _, task := range s.Tasks() {
		groups[task.Symbol()] = append(groups[task.Symbol()], task)
	}

	var wg sync.WaitGroup
	for symbol, group := range groups {
		wg.Add(1)
		go func(symbol string, group []Task) {
			defer wg.Done()
			s.runSymbolGroup(symbol, group)
		}(symbol, group)
	}
	wg.Wait()

	TickLatency.Observe(float64(time.Since(start).Milliseconds()))
	s.updateStateGauge()
}

// runSymbolGroup последовательно исполняет задачи одного символа
func (s *Scheduler) runSymbolGroup(symbol string, group []Task) {
	lock := s.lockForSymbol(symbol)
	lock.Lock()
	defer lock.Unlock()

	for _, task := range group {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandlerTimeout)
		result := task.Process(ctx)
		cancel()

		s.persistTask(task)

		if models.IsTerminal(result.State) {
			s.archiveIfTerminal(task)
		}
	}
}

// persistTask записывает dirty-контекст задачи
func (s *Scheduler) persistTask(task Task) {
	tc := task.Context()
	if !tc.Dirty {
		return
	}

	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTaskUpdate(tc)
	}

	if s.deps.Store == nil {
		task.MarkClean(tc.Version)
		return
	}

	err := s.deps.Store.Save(tc)
	RecordPersist(err)
	if err != nil {
		// Контекст остаётся dirty, запись повторится следующим тиком
		s.logger.Error("failed to persist task context",
			utils.TaskID(tc.TaskID),
			utils.Version(tc.Version),
			utils.Err(err))
		return
	}
	task.MarkClean(tc.Version)
}

// archiveIfTerminal снимает терминальную задачу с учёта.
// Контекст уже записан в терминальную корзину persistTask'ом.
func (s *Scheduler) archiveIfTerminal(task Task) {
	tc := task.Context()
	if !models.IsTerminal(tc.State) {
		return
	}

	s.RemoveTask(tc.TaskID)
	s.logger.Info("terminal task archived",
		utils.TaskID(tc.TaskID),
		utils.State(tc.State),
		utils.Int64("cycles", tc.Counters.Cycles),
		utils.Profit(tc.Counters.Profit))
}

// flushAll записывает все dirty-контексты (вызывается при останове)
func (s *Scheduler) flushAll() {
	for _, task := range s.Tasks() {
		s.persistTask(task)
	}
}

// CleanupPersistence удаляет архивные снимки старше срока хранения
func (s *Scheduler) CleanupPersistence() {
	if s.deps.Store == nil {
		return
	}

	removed, err := s.deps.Store.Sweep(s.retention())
	if err != nil {
		s.logger.Warn("persistence sweep failed", utils.Err(err))
		return
	}
	PersistSweeps.Add(float64(removed))
}

// retention - срок хранения архива; настраивается через SetRetention
func (s *Scheduler) retention() time.Duration {
	s.retentionMu.Lock()
	defer s.retentionMu.Unlock()
	if s.retentionOverride > 0 {
		return s.retentionOverride
	}
	return 7 * 24 * time.Hour
}

// SetRetention задаёт срок хранения архивных снимков
func (s *Scheduler) SetRetention(d time.Duration) {
	s.retentionMu.Lock()
	defer s.retentionMu.Unlock()
	s.retentionOverride = d
}

// lockForSymbol возвращает мьютекс символа
func (s *Scheduler) lockForSymbol(symbol string) *sync.Mutex {
	mu, _ := s.symbolLocks.LoadOrStore(symbol, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// updateStateGauge обновляет метрику задач по состояниям
func (s *Scheduler) updateStateGauge() {
	counts := make(map[string]int)
	for _, task := range s.Tasks() {
		counts[task.Context().State]++
	}
	UpdateTaskStates(counts)
}
