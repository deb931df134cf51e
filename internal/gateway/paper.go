package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"multileg/internal/models"
)

// PaperGateway - симулятор биржевого шлюза.
//
// Используется в тестах и dry-run режиме: ордера исполняются
// в памяти по заданным котировкам, без сетевых запросов.
// Поведение филлов управляемо:
//   - FillRatio 1.0 - ордер исполняется целиком при размещении
//   - FillRatio < 1.0 - частичное исполнение, остаток дозаполняется
//     при каждом QueryOrder
type PaperGateway struct {
	mu sync.Mutex

	quotes      map[models.Role]Quote
	balances    map[models.Role]float64
	orders      map[string]*Order
	initialized bool

	// FillRatio - доля объёма, исполняемая за один шаг (0..1]
	FillRatio float64

	// FailNext инъецирует ошибку в следующий PlaceOrder (для тестов)
	FailNext error
}

// NewPaperGateway создаёт симулятор с мгновенным исполнением
func NewPaperGateway() *PaperGateway {
	return &PaperGateway{
		quotes:    make(map[models.Role]Quote),
		balances:  make(map[models.Role]float64),
		orders:    make(map[string]*Order),
		FillRatio: 1.0,
	}
}

// SetQuote задаёт котировку роли
func (g *PaperGateway) SetQuote(role models.Role, bid, ask float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[role] = Quote{Bid: bid, Ask: ask, Timestamp: time.Now()}
}

// SetBalance задаёт баланс роли
func (g *PaperGateway) SetBalance(role models.Role, balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[role] = balance
}

// Initialize помечает шлюз готовым для указанных ролей
func (g *PaperGateway) Initialize(ctx context.Context, roles []models.Role) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range roles {
		if _, ok := g.quotes[r]; !ok {
			// Котировка по умолчанию чтобы dry-run работал из коробки
			g.quotes[r] = Quote{Bid: 100, Ask: 100.1, Timestamp: time.Now()}
		}
		if _, ok := g.balances[r]; !ok {
			g.balances[r] = 1_000_000
		}
	}
	g.initialized = true
	return nil
}

// PlaceOrder исполняет ордер по текущей котировке роли
func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.FailNext; err != nil {
		g.FailNext = nil
		return nil, err
	}
	if !g.initialized {
		return nil, &GatewayError{Role: req.Role, Code: ErrCodeNotInitialized, Message: "gateway not initialized"}
	}

	q, ok := g.quotes[req.Role]
	if !ok {
		return nil, &GatewayError{Role: req.Role, Code: ErrCodeRejected, Message: "no quote for role"}
	}

	price := req.Price
	if price == 0 {
		// Рыночный ордер: покупка по ask, продажа по bid
		if req.Side == SideBuy {
			price = q.Ask
		} else {
			price = q.Bid
		}
	}

	now := time.Now()
	o := &Order{
		ID:        uuid.NewString(),
		Role:      req.Role,
		Side:      req.Side,
		Quantity:  req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fill := req.Quantity * g.FillRatio
	o.FilledQty = fill
	o.AvgFillPrice = price
	if fill >= req.Quantity {
		o.FilledQty = req.Quantity
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartial
	}

	g.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

// QueryOrder возвращает снимок ордера, дозаполняя частичные
func (g *PaperGateway) QueryOrder(ctx context.Context, role models.Role, orderID string) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return nil, &GatewayError{Role: role, Code: ErrCodeRejected, Message: "order not found: " + orderID}
	}

	if o.Status == OrderStatusPartial {
		o.FilledQty += o.Quantity * g.FillRatio
		if o.FilledQty >= o.Quantity {
			o.FilledQty = o.Quantity
			o.Status = OrderStatusFilled
		}
		o.UpdatedAt = time.Now()
	}

	cp := *o
	return &cp, nil
}

// CancelOrder отменяет живой ордер
func (g *PaperGateway) CancelOrder(ctx context.Context, role models.Role, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[orderID]
	if !ok {
		return &GatewayError{Role: role, Code: ErrCodeRejected, Message: "order not found: " + orderID}
	}
	if !IsTerminalStatus(o.Status) {
		o.Status = OrderStatusCancelled
		o.UpdatedAt = time.Now()
	}
	return nil
}

// CancelAllOrders отменяет все живые ордера
func (g *PaperGateway) CancelAllOrders(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, o := range g.orders {
		if !IsTerminalStatus(o.Status) {
			o.Status = OrderStatusCancelled
			o.UpdatedAt = time.Now()
		}
	}
	return nil
}

// Balance возвращает баланс роли
func (g *PaperGateway) Balance(ctx context.Context, role models.Role) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[role], nil
}

// MinOrderSize возвращает минимальный объём (фиксированный для симулятора)
func (g *PaperGateway) MinOrderSize(ctx context.Context, role models.Role) (float64, error) {
	return 0.001, nil
}

// BestQuote возвращает текущую котировку роли
func (g *PaperGateway) BestQuote(ctx context.Context, role models.Role) (*Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.quotes[role]
	if !ok {
		return nil, &GatewayError{Role: role, Code: ErrCodeRejected, Message: "no quote for role"}
	}
	cp := q
	return &cp, nil
}

// HealthCheck возвращает состояние симулятора
func (g *PaperGateway) HealthCheck(ctx context.Context) (*Health, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := &Health{Healthy: g.initialized, Venues: make(map[models.Role]string)}
	for r := range g.quotes {
		h.Venues[r] = "ok"
	}
	return h, nil
}

// Close сбрасывает состояние симулятора
func (g *PaperGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initialized = false
	return nil
}

// LiveOrders возвращает количество неотменённых ордеров (для тестов)
func (g *PaperGateway) LiveOrders() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, o := range g.orders {
		if !IsTerminalStatus(o.Status) {
			n++
		}
	}
	return n
}
