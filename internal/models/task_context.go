package models

import (
	"sort"
	"strings"
	"time"
)

// ============================================================
// Роли ног арбитражной позиции
// ============================================================
//
// Закрытый набор: source (первая нога), dest (встречная нога),
// hedge (хеджирующая нога). Открытых строковых ключей нет:
// все role-keyed структуры матчатся исчерпывающе.

// Role - роль биржи/ноги внутри задачи
type Role string

const (
	RoleSource Role = "source"
	RoleDest   Role = "dest"
	RoleHedge  Role = "hedge"
)

// AllRoles - полный набор ролей в каноническом порядке
var AllRoles = []Role{RoleSource, RoleDest, RoleHedge}

// Valid проверяет что роль принадлежит закрытому набору
func (r Role) Valid() bool {
	return r == RoleSource || r == RoleDest || r == RoleHedge
}

// ============================================================
// Состояния задачи (state machine)
// ============================================================

const (
	StateIdle          = "IDLE"           // создана, ещё не запускалась
	StateInitializing  = "INITIALIZING"   // подключение шлюза по ролям
	StateMonitoring    = "MONITORING"     // сверка ордеров, ожидание сигнала
	StateAnalyzing     = "ANALYZING"      // оценка котировок и сигнала
	StateExecuting     = "EXECUTING"      // размещение ордеров цикла
	StateErrorRecovery = "ERROR_RECOVERY" // откат после сбоя, backoff
	StateCompleted     = "COMPLETED"      // терминальное: цикл(ы) завершены
	StateCancelled     = "CANCELLED"      // терминальное: отменена оператором
	StateError         = "ERROR"          // терминальное: фатальный сбой
)

// IsTerminal возвращает true для терминальных состояний:
// задача снимается с планировщика и архивируется
func IsTerminal(s string) bool {
	return s == StateCompleted || s == StateCancelled || s == StateError
}

// ============================================================
// Позиции и активные ордера
// ============================================================

// Position - позиция одной ноги
//
// Quantity знаковая: покупки увеличивают, продажи уменьшают.
// AvgPrice - средневзвешенная цена накопленных филлов.
type Position struct {
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Positions - позиции по всем ногам задачи.
//
// Фиксированная структура вместо map[string]Position: набор ролей
// закрыт, исчерпывающий match проверяется компилятором.
type Positions struct {
	Source Position `json:"source"`
	Dest   Position `json:"dest"`
	Hedge  Position `json:"hedge"`
}

// Get возвращает позицию роли
func (p Positions) Get(role Role) Position {
	switch role {
	case RoleSource:
		return p.Source
	case RoleDest:
		return p.Dest
	case RoleHedge:
		return p.Hedge
	}
	return Position{}
}

// With возвращает копию с заменённой позицией роли
func (p Positions) With(role Role, pos Position) Positions {
	switch role {
	case RoleSource:
		p.Source = pos
	case RoleDest:
		p.Dest = pos
	case RoleHedge:
		p.Hedge = pos
	}
	return p
}

// Imbalance - дисбаланс хеджа: Σ(не-hedge ноги) - hedge.
// Положительный дисбаланс означает что хедж отстаёт (нужна покупка).
func (p Positions) Imbalance() float64 {
	return p.Source.Quantity + p.Dest.Quantity - p.Hedge.Quantity
}

// ActiveOrder - ордер, принадлежащий задаче до терминального статуса
type ActiveOrder struct {
	OrderID      string  `json:"order_id"`
	Role         Role    `json:"role"`
	Side         string  `json:"side"` // "buy" / "sell"
	Quantity     float64 `json:"quantity"`
	FilledQty    float64 `json:"filled_qty"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	Status       string  `json:"status"`
}

// Counters - накопительные счётчики задачи
type Counters struct {
	Cycles int64   `json:"cycles"` // завершённые циклы входа
	Volume float64 `json:"volume"` // суммарный исполненный объём
	Profit float64 `json:"profit"` // накопленный денежный поток (quote)
}

// ============================================================
// TaskContext - неизменяемый снимок состояния задачи
// ============================================================

// TaskContext - версионированный снимок одной арбитражной задачи.
//
// Контекст никогда не мутируется на месте: единственный путь
// изменения - Evolve, возвращающий новое значение с поднятой
// версией и взведённым dirty-флагом. Это гарантирует что
// частично изменённый контекст не виден ни планировщику,
// ни персистенции.
type TaskContext struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Roles    []Role `json:"roles"`

	State     string    `json:"state"`
	Positions Positions `json:"positions"`

	// Активные ордера по order_id. Evolve копирует map целиком.
	ActiveOrders map[string]ActiveOrder `json:"active_orders"`

	Counters  Counters  `json:"counters"`
	Version   uint64    `json:"version"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	// Dirty не сериализуется: после записи стора он сбрасывается
	Dirty bool `json:"-"`
}

// Mutation - одно изменение, применяемое внутри Evolve
type Mutation func(*TaskContext)

// NewTaskContext создаёт контекст в состоянии IDLE
func NewTaskContext(taskType, strategy, symbol string, roles []Role) TaskContext {
	return TaskContext{
		TaskID:       ComputeTaskID(taskType, strategy, symbol, roles),
		TaskType:     taskType,
		Strategy:     strategy,
		Symbol:       symbol,
		Roles:        append([]Role(nil), roles...),
		State:        StateIdle,
		ActiveOrders: make(map[string]ActiveOrder),
		UpdatedAt:    time.Now().UTC(),
	}
}

// Evolve возвращает новый контекст с применёнными мутациями.
//
// Глубоко копирует map активных ордеров и слайс ролей, поднимает
// Version, обновляет UpdatedAt и взводит Dirty. Исходное значение
// не меняется.
func (c TaskContext) Evolve(muts ...Mutation) TaskContext {
	next := c
	next.Roles = append([]Role(nil), c.Roles...)
	next.ActiveOrders = make(map[string]ActiveOrder, len(c.ActiveOrders))
	for id, o := range c.ActiveOrders {
		next.ActiveOrders[id] = o
	}

	for _, m := range muts {
		m(&next)
	}

	next.Version = c.Version + 1
	next.UpdatedAt = time.Now().UTC()
	next.Dirty = true
	return next
}

// ============ Стандартные мутации ============

// WithState переводит контекст в новое состояние
func WithState(state string) Mutation {
	return func(c *TaskContext) { c.State = state }
}

// WithPosition заменяет позицию роли
func WithPosition(role Role, pos Position) Mutation {
	return func(c *TaskContext) { c.Positions = c.Positions.With(role, pos) }
}

// WithOrder добавляет/заменяет активный ордер
func WithOrder(o ActiveOrder) Mutation {
	return func(c *TaskContext) { c.ActiveOrders[o.OrderID] = o }
}

// WithoutOrder удаляет ордер из карты активных (терминальный статус)
func WithoutOrder(orderID string) Mutation {
	return func(c *TaskContext) { delete(c.ActiveOrders, orderID) }
}

// WithCounters заменяет счётчики
func WithCounters(cnt Counters) Mutation {
	return func(c *TaskContext) { c.Counters = cnt }
}

// WithLastError записывает текст последней ошибки
func WithLastError(msg string) Mutation {
	return func(c *TaskContext) { c.LastError = msg }
}

// ClearDirty возвращает копию со сброшенным dirty-флагом.
// Вызывается планировщиком после успешной записи стора;
// версию не поднимает - содержимое не менялось.
func (c TaskContext) ClearDirty() TaskContext {
	c.Dirty = false
	return c
}

// ============================================================
// Идентификатор задачи
// ============================================================

// ComputeTaskID - детерминированный идентификатор задачи.
//
// Чистая функция от (тип задачи, стратегия, символ, роли):
// одинаковые входы всегда дают одинаковый id, что делает
// повторную регистрацию после восстановления идемпотентной.
// Тип задачи идёт первым токеном - по нему реестр восстановления
// выбирает конструктор без рефлексии.
func ComputeTaskID(taskType, strategy, symbol string, roles []Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return strings.Join([]string{taskType, strategy, symbol, strings.Join(names, "-")}, ":")
}

// TypeTag извлекает тег типа задачи из task_id
func TypeTag(taskID string) string {
	if i := strings.IndexByte(taskID, ':'); i > 0 {
		return taskID[:i]
	}
	return taskID
}

// TaskResult - результат одного шага исполнения задачи
type TaskResult struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}
