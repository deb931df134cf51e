package gateway

import (
	"context"
	"time"

	"multileg/internal/models"
)

// VenueGateway определяет унифицированный интерфейс доступа к биржам
// по ролям задачи. Ядро исполнения не знает wire-форматов бирж:
// весь венозависимый код живёт за этим интерфейсом.
type VenueGateway interface {
	// Initialize подготавливает подключения для указанных ролей
	Initialize(ctx context.Context, roles []models.Role) error

	// PlaceOrder размещает ордер на бирже роли.
	// Price == 0 означает рыночный ордер.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, role models.Role, orderID string) error

	// QueryOrder возвращает свежий снимок ордера
	QueryOrder(ctx context.Context, role models.Role, orderID string) (*Order, error)

	// CancelAllOrders отменяет все живые ордера по всем ролям
	CancelAllOrders(ctx context.Context) error

	// Balance возвращает доступный баланс (quote) для роли
	Balance(ctx context.Context, role models.Role) (float64, error)

	// MinOrderSize возвращает минимальный объём ордера для роли
	MinOrderSize(ctx context.Context, role models.Role) (float64, error)

	// BestQuote возвращает лучшие bid/ask для роли
	BestQuote(ctx context.Context, role models.Role) (*Quote, error)

	// HealthCheck возвращает сводку состояния подключений
	HealthCheck(ctx context.Context) (*Health, error)

	// Close освобождает ресурсы шлюза
	Close() error
}

// Side constants for orders
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// SideSign возвращает знак стороны: +1 покупка, -1 продажа
func SideSign(side string) float64 {
	if side == SideSell {
		return -1
	}
	return 1
}

// Order status constants
const (
	OrderStatusNew       = "new"
	OrderStatusPartial   = "partial"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
	OrderStatusRejected  = "rejected"
)

// IsTerminalStatus возвращает true если ордер больше не изменится
func IsTerminalStatus(status string) bool {
	return status == OrderStatusFilled || status == OrderStatusCancelled || status == OrderStatusRejected
}

// OrderRequest - запрос на размещение ордера
type OrderRequest struct {
	Role     models.Role `json:"role"`
	Side     string      `json:"side"`
	Quantity float64     `json:"quantity"`
	Price    float64     `json:"price"` // 0 = market
}

// Order представляет снимок ордера на бирже
type Order struct {
	ID           string      `json:"id"`
	Role         models.Role `json:"role"`
	Side         string      `json:"side"`
	Quantity     float64     `json:"quantity"`
	FilledQty    float64     `json:"filled_qty"`
	AvgFillPrice float64     `json:"avg_fill_price"`
	Status       string      `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Quote - лучшие цены по роли
type Quote struct {
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Health - сводка состояния шлюза
type Health struct {
	Healthy bool                   `json:"healthy"`
	Venues  map[models.Role]string `json:"venues"` // role -> "ok" / текст проблемы
}

// GatewayError представляет ошибку шлюза
type GatewayError struct {
	Role      models.Role
	Code      string
	Message   string
	Original  error
	Temporary bool
}

func (e *GatewayError) Error() string {
	return string(e.Role) + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для errors.Is() и errors.As()
func (e *GatewayError) Unwrap() error {
	return e.Original
}

// Retryable сообщает retry-политике можно ли повторять операцию
func (e *GatewayError) Retryable() bool {
	return e.Temporary
}

// Коды ошибок шлюза
const (
	ErrCodeTimeout             = "timeout"
	ErrCodeRejected            = "order_rejected"
	ErrCodeInsufficientBalance = "insufficient_balance"
	ErrCodeNotInitialized      = "not_initialized"
	ErrCodeAuth                = "auth_failed"
)
