package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"multileg/internal/config"
	"multileg/internal/gateway"
	"multileg/internal/models"
	"multileg/pkg/retry"
	"multileg/pkg/utils"
)

// task.go - арбитражная задача: конечный автомат исполнения
//
// Жизненный цикл:
//
//	IDLE -> INITIALIZING -> MONITORING <-> ANALYZING -> EXECUTING
//	                            ^                           |
//	                            +------ ERROR_RECOVERY <----+
//
// Process() выполняет ровно одну ограниченную единицу работы
// (обработчик текущего состояния) и возвращает управление
// планировщику. Обработчики не блокируются дольше бюджета
// контекста и не спят.

// TaskTypeMultileg - тег типа задачи в реестре восстановления
const TaskTypeMultileg = "multileg"

// Task - единица работы планировщика
type Task interface {
	// ID возвращает детерминированный идентификатор задачи
	ID() string

	// Symbol возвращает торговый символ (ключ взаимного исключения)
	Symbol() string

	// Context возвращает текущий снимок контекста
	Context() models.TaskContext

	// MarkClean сбрасывает dirty-флаг после записи стора
	MarkClean(version uint64)

	// Process выполняет одну единицу работы
	Process(ctx context.Context) models.TaskResult

	// Cancel синхронно отменяет задачу: снять все ордера, затем CANCELLED
	Cancel(ctx context.Context) error
}

// SignalSource - источник сигнала входа.
// Вычисление сигнала вне ядра: ядро только спрашивает.
type SignalSource interface {
	EntrySignal(ctx context.Context, symbol string) (bool, error)
}

// SignalFunc - адаптер функции к SignalSource
type SignalFunc func(ctx context.Context, symbol string) (bool, error)

func (f SignalFunc) EntrySignal(ctx context.Context, symbol string) (bool, error) {
	return f(ctx, symbol)
}

// TaskDeps - зависимости задачи, внедряются при создании
type TaskDeps struct {
	Gateway gateway.VenueGateway
	Signal  SignalSource
	Config  config.ExecutionConfig
	Logger  *utils.Logger
	Notify  chan<- models.Notification
}

// handlerFunc - обработчик одного состояния
type handlerFunc func(ctx context.Context, tc models.TaskContext) (models.TaskContext, error)

// ArbitrageTask - многоногая арбитражная задача
type ArbitrageTask struct {
	mu   sync.Mutex
	tc   models.TaskContext
	deps TaskDeps

	logger   *utils.Logger
	handlers map[string]handlerFunc

	// recoverAfter - момент когда ERROR_RECOVERY может вернуться
	// в MONITORING (backoff без блокировки тика)
	recoverAfter time.Time
}

// NewArbitrageTask создаёт задачу в состоянии IDLE
func NewArbitrageTask(strategy, symbol string, deps TaskDeps) *ArbitrageTask {
	return newTask(models.NewTaskContext(TaskTypeMultileg, strategy, symbol, models.AllRoles), deps)
}

// NewArbitrageTaskFromContext восстанавливает задачу из снимка.
// Восстановленная задача стартует с ERROR_RECOVERY-подобной сверки:
// первый MONITORING-тик приводит ордера и позиции в актуальное
// состояние прежде чем исполнение продолжится.
func NewArbitrageTaskFromContext(tc models.TaskContext, deps TaskDeps) *ArbitrageTask {
	return newTask(tc, deps)
}

func newTask(tc models.TaskContext, deps TaskDeps) *ArbitrageTask {
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}
	t := &ArbitrageTask{
		tc:     tc,
		deps:   deps,
		logger: logger.WithComponent("task").WithTaskID(tc.TaskID),
	}
	t.handlers = map[string]handlerFunc{
		models.StateIdle:          t.handleIdle,
		models.StateInitializing:  t.handleInitializing,
		models.StateMonitoring:    t.handleMonitoring,
		models.StateAnalyzing:     t.handleAnalyzing,
		models.StateExecuting:     t.handleExecuting,
		models.StateErrorRecovery: t.handleErrorRecovery,
	}
	return t
}

func (t *ArbitrageTask) ID() string     { return t.tc.TaskID }
func (t *ArbitrageTask) Symbol() string { return t.tc.Symbol }

// Context возвращает текущий снимок (значение, копировать безопасно)
func (t *ArbitrageTask) Context() models.TaskContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc
}

// MarkClean сбрасывает dirty если версия не ушла вперёд.
// Контекст, изменившийся после снятия снимка для записи,
// остаётся dirty и будет записан следующим тиком.
func (t *ArbitrageTask) MarkClean(version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tc.Version == version {
		t.tc = t.tc.ClearDirty()
	}
}

// Process выполняет обработчик текущего состояния.
//
// Паника обработчика не валит планировщик: она ловится здесь,
// классифицируется как ошибка задачи и уводит её в ERROR.
func (t *ArbitrageTask) Process(ctx context.Context) models.TaskResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	if models.IsTerminal(t.tc.State) {
		return models.TaskResult{TaskID: t.tc.TaskID, State: t.tc.State}
	}

	handler, ok := t.handlers[t.tc.State]
	if !ok {
		t.failTask(ctx, fmt.Errorf("no handler for state %s", t.tc.State))
		return models.TaskResult{TaskID: t.tc.TaskID, State: t.tc.State}
	}

	next, err := t.runHandler(ctx, handler)
	if err != nil {
		t.routeFailure(ctx, err)
		return models.TaskResult{TaskID: t.tc.TaskID, State: t.tc.State}
	}

	t.tc = next
	return models.TaskResult{TaskID: t.tc.TaskID, State: t.tc.State}
}

// runHandler вызывает обработчик с перехватом паники
func (t *ArbitrageTask) runHandler(ctx context.Context, handler handlerFunc) (next models.TaskContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			TaskPanics.WithLabelValues(t.tc.Symbol).Inc()
			t.logger.Error("task handler panicked",
				utils.State(t.tc.State),
				utils.Any("panic", r))
			err = retry.Permanent(fmt.Errorf("handler panic in state %s: %v", t.tc.State, r))
		}
	}()
	return handler(ctx, t.tc)
}

// routeFailure классифицирует ошибку обработчика.
// Временные сбои уводят в ERROR_RECOVERY (снять ордера, backoff),
// постоянные и исчерпанные бюджеты - в терминальный ERROR.
func (t *ArbitrageTask) routeFailure(ctx context.Context, cause error) {
	t.logger.Error("task handler failed",
		utils.State(t.tc.State),
		utils.Err(cause))

	if retry.IsRetryable(cause) && CanTransition(t.tc.State, models.StateErrorRecovery) {
		if err := t.cancelAllOrders(ctx); err != nil {
			// Не смогли снять ордера - оставлять задачу живой опасно
			t.failTask(ctx, fmt.Errorf("cancel-all during recovery: %w", err))
			return
		}
		t.recoverAfter = time.Now().Add(t.deps.Config.RecoveryBackoff)
		t.tc = t.tc.Evolve(
			models.WithState(models.StateErrorRecovery),
			models.WithLastError(cause.Error()),
		)
		t.sendNotification(models.NotificationTypeError, models.SeverityWarn,
			"task entered recovery: "+cause.Error())
		return
	}

	t.failTask(ctx, cause)
}

// failTask переводит задачу в терминальный ERROR
func (t *ArbitrageTask) failTask(ctx context.Context, cause error) {
	if err := t.cancelAllOrders(ctx); err != nil {
		t.logger.Error("cancel-all on task failure", utils.Err(err))
	}
	t.tc = t.tc.Evolve(
		models.WithState(models.StateError),
		models.WithLastError(cause.Error()),
	)
	t.sendNotification(models.NotificationTypeError, models.SeverityError, cause.Error())
}

// Cancel синхронно отменяет задачу.
//
// Сначала снимаются все живые ордера; только после успешной
// отмены задача переходит в CANCELLED. Неудачная отмена
// уводит задачу в ERROR: считать её отменённой при живых
// ордерах нельзя.
func (t *ArbitrageTask) Cancel(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if models.IsTerminal(t.tc.State) {
		return nil
	}

	if err := t.cancelAllOrders(ctx); err != nil {
		t.tc = t.tc.Evolve(
			models.WithState(models.StateError),
			models.WithLastError("cancel failed: "+err.Error()),
		)
		t.sendNotification(models.NotificationTypeError, models.SeverityError,
			"cancel failed, task moved to ERROR: "+err.Error())
		return fmt.Errorf("cancel task %s: %w", t.tc.TaskID, err)
	}

	t.tc = t.tc.Evolve(models.WithState(models.StateCancelled))
	t.sendNotification(models.NotificationTypeCancelled, models.SeverityInfo, "task cancelled")
	t.logger.Info("task cancelled", utils.Version(t.tc.Version))
	return nil
}

// cancelAllOrders снимает все живые ордера с агрессивным retry.
//
// Отмена venue-wide, а не по карте активных: нога, размещённая
// но ещё не попавшая в контекст (сбой в handleExecuting), тоже
// должна быть снята.
func (t *ArbitrageTask) cancelAllOrders(ctx context.Context) error {
	cfg := retry.AggressiveConfig()
	cfg.RetryIf = retry.IsRetryable
	err := retry.Do(ctx, func() error {
		return t.deps.Gateway.CancelAllOrders(ctx)
	}, cfg)
	if err != nil {
		return err
	}

	muts := make([]models.Mutation, 0, len(t.tc.ActiveOrders))
	for id := range t.tc.ActiveOrders {
		muts = append(muts, models.WithoutOrder(id))
	}
	t.tc = t.tc.Evolve(muts...)
	return nil
}

// ============================================================
// Обработчики состояний
// ============================================================

// handleIdle: единственная работа - начать инициализацию
func (t *ArbitrageTask) handleIdle(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	return Transition(tc, models.StateInitializing)
}

// handleInitializing подключает шлюз и проверяет пригодность
// параметров: объём ноги не меньше биржевого минимума каждой роли,
// на каждой роли есть средства. Непригодные параметры - постоянная
// ошибка: повторять подключение бессмысленно.
func (t *ArbitrageTask) handleInitializing(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.deps.Config.OrderTimeout)
	defer cancel()

	if err := t.deps.Gateway.Initialize(callCtx, tc.Roles); err != nil {
		return tc, fmt.Errorf("gateway initialize: %w", err)
	}

	for _, role := range tc.Roles {
		minSize, err := t.deps.Gateway.MinOrderSize(callCtx, role)
		if err != nil {
			return tc, fmt.Errorf("min order size for %s: %w", role, err)
		}
		if t.deps.Config.OrderVolume < minSize {
			return tc, retry.Permanent(fmt.Errorf(
				"order volume %.8f below %s minimum %.8f",
				t.deps.Config.OrderVolume, role, minSize))
		}

		balance, err := t.deps.Gateway.Balance(callCtx, role)
		if err != nil {
			return tc, fmt.Errorf("balance for %s: %w", role, err)
		}
		if balance <= 0 {
			return tc, retry.Permanent(fmt.Errorf("no funds on %s venue", role))
		}
	}

	t.logger.Info("gateway initialized", utils.Symbol(tc.Symbol))
	return Transition(tc, models.StateMonitoring)
}

// handleMonitoring сверяет живые ордера и решает куда двигаться.
//
// Порядок:
//  1. опрос каждого активного ордера, свёртка снимка в позиции
//  2. коррекция дисбаланса хеджа одним рыночным ордером
//  3. при достижении целевых циклов и пустой карте ордеров - COMPLETED
//  4. иначе при пустой карте - ANALYZING, при живых ордерах
//     остаёмся в MONITORING до следующего тика
func (t *ArbitrageTask) handleMonitoring(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	for id := range tc.ActiveOrders {
		order := tc.ActiveOrders[id]

		callCtx, cancel := context.WithTimeout(ctx, t.deps.Config.OrderTimeout)
		snapshot, err := t.deps.Gateway.QueryOrder(callCtx, order.Role, id)
		cancel()
		if err != nil {
			return tc, fmt.Errorf("query order %s: %w", id, err)
		}

		var result FillResult
		tc, result = ReconcileFill(tc, snapshot)
		RecordFillDelta(tc.Symbol, string(order.Role), result)

		if result.Discarded {
			t.logger.Warn("stale order snapshot discarded",
				utils.OrderID(id),
				utils.Float64("delta", result.Delta))
		}
	}

	// Коррекция хеджа только когда нет живых ордеров: иначе
	// недоисполненные ноги сами закроют дисбаланс
	if len(tc.ActiveOrders) == 0 {
		var err error
		tc, err = t.rebalanceHedge(ctx, tc)
		if err != nil {
			return tc, err
		}
	}

	if len(tc.ActiveOrders) > 0 {
		// Дожидаемся исполнения на следующих тиках
		return tc, nil
	}

	target := t.deps.Config.TargetCycles
	if target > 0 && tc.Counters.Cycles >= target {
		t.logger.Info("target cycles reached",
			utils.Int64("cycles", tc.Counters.Cycles),
			utils.Profit(tc.Counters.Profit))
		return Transition(tc, models.StateCompleted)
	}

	return Transition(tc, models.StateAnalyzing)
}

// rebalanceHedge выставляет один корректирующий ордер при дисбалансе
func (t *ArbitrageTask) rebalanceHedge(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	req, needed := ComputeRebalance(tc.Positions, t.deps.Config.RebalanceTolerance)
	if !needed {
		return tc, nil
	}

	// Остаток меньше шага биржи коррекцией не закрыть
	req.Quantity = utils.RoundToLotSize(req.Quantity, t.deps.Config.LotStep)
	if req.Quantity <= 0 {
		return tc, nil
	}

	order, err := t.placeOrder(ctx, req)
	if err != nil {
		return tc, fmt.Errorf("place rebalance order: %w", err)
	}

	RecordRebalance(tc.Symbol, req.Side)
	t.logger.Info("hedge rebalance order placed",
		utils.OrderID(order.ID),
		utils.Side(req.Side),
		utils.Volume(req.Quantity),
		utils.Imbalance(tc.Positions.Imbalance()))
	t.sendNotification(models.NotificationTypeRebalance, models.SeverityInfo,
		fmt.Sprintf("hedge rebalance: %s %.8f %s", req.Side, req.Quantity, tc.Symbol))

	return tc.Evolve(models.WithOrder(toActiveOrder(order))), nil
}

// handleAnalyzing спрашивает источник сигнала
func (t *ArbitrageTask) handleAnalyzing(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	if t.deps.Signal == nil {
		return Transition(tc, models.StateMonitoring)
	}

	enter, err := t.deps.Signal.EntrySignal(ctx, tc.Symbol)
	if err != nil {
		return tc, fmt.Errorf("entry signal: %w", err)
	}
	if !enter {
		return Transition(tc, models.StateMonitoring)
	}
	return Transition(tc, models.StateExecuting)
}

// handleExecuting размещает обе ноги цикла параллельно.
//
// Успех обеих ног: ордера в карте активных, Cycles+1, MONITORING
// доисполняет и сверяет филлы. Сбой любой ноги: ошибка наверх,
// routeFailure снимет уже размещённую ногу через cancel-all.
func (t *ArbitrageTask) handleExecuting(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	// Округление вниз до шага биржи: заявка не превысит настроенный объём
	volume := utils.RoundToLotSize(t.deps.Config.OrderVolume, t.deps.Config.LotStep)
	if volume <= 0 {
		return tc, retry.Permanent(fmt.Errorf(
			"order volume %.8f rounds to zero at lot step %.8f",
			t.deps.Config.OrderVolume, t.deps.Config.LotStep))
	}
	legs := []gateway.OrderRequest{
		{Role: models.RoleSource, Side: gateway.SideBuy, Quantity: volume},
		{Role: models.RoleDest, Side: gateway.SideSell, Quantity: volume},
	}

	type legResult struct {
		order *gateway.Order
		err   error
	}
	results := make([]legResult, len(legs))

	var wg sync.WaitGroup
	for i := range legs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, err := t.placeOrder(ctx, legs[i])
			results[i] = legResult{order: order, err: err}
		}(i)
	}
	wg.Wait()

	muts := make([]models.Mutation, 0, len(legs)+1)
	for i, res := range results {
		if res.err != nil {
			return tc, fmt.Errorf("place %s leg: %w", legs[i].Role, res.err)
		}
		muts = append(muts, models.WithOrder(toActiveOrder(res.order)))
	}

	counters := tc.Counters
	counters.Cycles++
	muts = append(muts, models.WithCounters(counters), models.WithState(models.StateMonitoring))

	CyclesTotal.WithLabelValues(tc.Symbol).Inc()
	t.logger.Info("cycle orders placed",
		utils.Int64("cycles", counters.Cycles),
		utils.Volume(volume))
	t.sendNotification(models.NotificationTypeExecuted, models.SeverityInfo,
		fmt.Sprintf("cycle %d orders placed for %s", counters.Cycles, tc.Symbol))

	return tc.Evolve(muts...), nil
}

// handleErrorRecovery ждёт окончания backoff не блокируя тик
func (t *ArbitrageTask) handleErrorRecovery(ctx context.Context, tc models.TaskContext) (models.TaskContext, error) {
	if time.Now().Before(t.recoverAfter) {
		return tc, nil
	}

	t.logger.Info("recovery backoff elapsed, resuming monitoring")
	t.sendNotification(models.NotificationTypeRecovery, models.SeverityInfo,
		"task resumed after recovery backoff")
	return Transition(tc, models.StateMonitoring)
}

// ============================================================
// Вспомогательные методы
// ============================================================

// placeOrder размещает ордер с retry и таймаутом на попытку
func (t *ArbitrageTask) placeOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = t.deps.Config.MaxRetries
	cfg.InitialDelay = t.deps.Config.RetryBackoff
	cfg.RetryIf = retry.IsRetryable

	start := time.Now()
	order, err := retry.DoWithResult(ctx, func() (*gateway.Order, error) {
		callCtx, cancel := context.WithTimeout(ctx, t.deps.Config.OrderTimeout)
		defer cancel()
		return t.deps.Gateway.PlaceOrder(callCtx, req)
	}, cfg)

	GatewayLatency.WithLabelValues("place_order").Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		GatewayCalls.WithLabelValues("place_order", "error").Inc()
		return nil, err
	}
	GatewayCalls.WithLabelValues("place_order", "ok").Inc()
	return order, nil
}

// sendNotification отправляет уведомление не блокируя исполнение
func (t *ArbitrageTask) sendNotification(ntype, severity, message string) {
	if t.deps.Notify == nil {
		return
	}
	n := models.Notification{
		Timestamp: time.Now().UTC(),
		Type:      ntype,
		Severity:  severity,
		TaskID:    t.tc.TaskID,
		Message:   message,
	}
	select {
	case t.deps.Notify <- n:
	default:
		// Переполненный канал уведомлений не должен тормозить торговлю
		t.logger.Warn("notification channel full, event dropped",
			utils.String("type", ntype))
	}
}

// toActiveOrder преобразует снимок шлюза в запись карты активных
func toActiveOrder(o *gateway.Order) models.ActiveOrder {
	return models.ActiveOrder{
		OrderID:      o.ID,
		Role:         o.Role,
		Side:         o.Side,
		Quantity:     o.Quantity,
		FilledQty:    0, // филлы учитывает только сверка
		AvgFillPrice: 0,
		Status:       gateway.OrderStatusNew,
	}
}
