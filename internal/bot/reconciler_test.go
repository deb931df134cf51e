package bot

import (
	"math"
	"testing"

	"multileg/internal/gateway"
	"multileg/internal/models"
)

func reconcilerContext(orders ...models.ActiveOrder) models.TaskContext {
	muts := make([]models.Mutation, 0, len(orders)+1)
	muts = append(muts, models.WithState(models.StateMonitoring))
	for _, o := range orders {
		muts = append(muts, models.WithOrder(o))
	}
	return models.NewTaskContext("multileg", "basis", "BTCUSDT", models.AllRoles).Evolve(muts...)
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

// ============================================================
// Тесты ReconcileFill
// ============================================================

// TestReconcileFill_FirstFill проверяет первый филл в плоскую позицию
func TestReconcileFill_FirstFill(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy, Quantity: 1.0,
	})

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.4, AvgFillPrice: 25000, Status: gateway.OrderStatusPartial,
	})

	if !result.Applied {
		t.Fatal("fill not applied")
	}
	approx(t, "Delta", result.Delta, 0.4)
	approx(t, "CashDelta", result.CashDelta, -0.4*25000)

	pos := next.Positions.Source
	approx(t, "Quantity", pos.Quantity, 0.4)
	approx(t, "AvgPrice", pos.AvgPrice, 25000)
	approx(t, "Volume", next.Counters.Volume, 0.4)
	approx(t, "Profit", next.Counters.Profit, -10000)

	// Частичный ордер остаётся активным с новым прогрессом
	if o, ok := next.ActiveOrders["o-1"]; !ok || o.FilledQty != 0.4 {
		t.Errorf("active order not updated: %+v", next.ActiveOrders["o-1"])
	}
}

// TestReconcileFill_IncrementalDelta проверяет что учитывается
// только приращение, а не полный объём
func TestReconcileFill_IncrementalDelta(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy,
		Quantity: 1.0, FilledQty: 0.4, AvgFillPrice: 25000,
	})
	ctx = ctx.Evolve(models.WithPosition(models.RoleSource, models.Position{Quantity: 0.4, AvgPrice: 25000}))

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 1.0, AvgFillPrice: 25100, Status: gateway.OrderStatusFilled,
	})

	approx(t, "Delta", result.Delta, 0.6)
	if !result.Terminal {
		t.Error("filled order must be terminal")
	}

	pos := next.Positions.Source
	approx(t, "Quantity", pos.Quantity, 1.0)
	// (0.4×25000 + 0.6×25100) / 1.0 = 25060
	approx(t, "AvgPrice", pos.AvgPrice, 25060)

	if _, ok := next.ActiveOrders["o-1"]; ok {
		t.Error("terminal order must leave the active map")
	}
}

// TestReconcileFill_NegativeDeltaDiscarded проверяет отбрасывание
// устаревших снимков: повторная сверка не двигает позицию
func TestReconcileFill_NegativeDeltaDiscarded(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy,
		Quantity: 1.0, FilledQty: 0.8, AvgFillPrice: 25000,
	})
	ctx = ctx.Evolve(models.WithPosition(models.RoleSource, models.Position{Quantity: 0.8, AvgPrice: 25000}))
	baseVersion := ctx.Version

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.5, AvgFillPrice: 24900, Status: gateway.OrderStatusPartial,
	})

	if !result.Discarded {
		t.Fatal("stale snapshot must be discarded")
	}
	if result.Applied {
		t.Error("discarded snapshot must not be applied")
	}
	if next.Version != baseVersion {
		t.Error("discarded snapshot must not evolve the context")
	}
	approx(t, "Quantity", next.Positions.Source.Quantity, 0.8)
	if o := next.ActiveOrders["o-1"]; o.FilledQty != 0.8 {
		t.Errorf("previous fill state must stay authoritative, got %v", o.FilledQty)
	}
}

// TestReconcileFill_ZeroDeltaIdempotent проверяет идемпотентность
// повторной сверки того же снимка
func TestReconcileFill_ZeroDeltaIdempotent(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy,
		Quantity: 1.0, FilledQty: 0.5, AvgFillPrice: 25000,
	})
	ctx = ctx.Evolve(models.WithPosition(models.RoleSource, models.Position{Quantity: 0.5, AvgPrice: 25000}))

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.5, AvgFillPrice: 25000, Status: gateway.OrderStatusPartial,
	})

	if !result.Applied {
		t.Fatal("zero-delta snapshot is still valid")
	}
	approx(t, "Delta", result.Delta, 0)
	approx(t, "Quantity", next.Positions.Source.Quantity, 0.5)
	approx(t, "Volume", next.Counters.Volume, 0)
}

// TestReconcileFill_UnchangedSnapshotDoesNotEvolve: снимок без
// приращения и без смены статуса не трогает контекст - иначе
// задача с одним живым ордером писалась бы на диск каждый тик
func TestReconcileFill_UnchangedSnapshotDoesNotEvolve(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy,
		Quantity: 1.0, FilledQty: 0.5, AvgFillPrice: 25000,
		Status: gateway.OrderStatusPartial,
	})
	baseVersion := ctx.Version

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.5, AvgFillPrice: 25000, Status: gateway.OrderStatusPartial,
	})

	if !result.Applied {
		t.Fatal("unchanged snapshot is still valid")
	}
	if next.Version != baseVersion {
		t.Errorf("Version = %d, want %d (unchanged snapshot must not evolve)", next.Version, baseVersion)
	}
	approx(t, "Quantity", next.Positions.Source.Quantity, 0)

	// Смена статуса при нулевой дельте всё же фиксируется
	next, _ = ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.5, AvgFillPrice: 25000, Status: gateway.OrderStatusFilled,
	})
	if _, ok := next.ActiveOrders["o-1"]; ok {
		t.Error("terminal status with zero delta must still retire the order")
	}
	if next.Version == baseVersion {
		t.Error("status change must evolve the context")
	}
}

// TestReconcileFill_SellReducesPosition проверяет знаковую арифметику продаж
func TestReconcileFill_SellReducesPosition(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-2", Role: models.RoleDest, Side: gateway.SideSell, Quantity: 0.5,
	})

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-2", FilledQty: 0.5, AvgFillPrice: 25200, Status: gateway.OrderStatusFilled,
	})

	approx(t, "Quantity", next.Positions.Dest.Quantity, -0.5)
	// Продажа приносит деньги
	approx(t, "CashDelta", result.CashDelta, 0.5*25200)
	approx(t, "Profit", next.Counters.Profit, 12600)
}

// TestReconcileFill_RoundTripProfit проверяет что купить дешевле
// и продать дороже даёт положительный Profit на плоской позиции
func TestReconcileFill_RoundTripProfit(t *testing.T) {
	ctx := reconcilerContext(
		models.ActiveOrder{OrderID: "buy", Role: models.RoleSource, Side: gateway.SideBuy, Quantity: 1},
		models.ActiveOrder{OrderID: "sell", Role: models.RoleSource, Side: gateway.SideSell, Quantity: 1},
	)

	ctx, _ = ReconcileFill(ctx, &gateway.Order{
		ID: "buy", FilledQty: 1, AvgFillPrice: 25000, Status: gateway.OrderStatusFilled,
	})
	ctx, _ = ReconcileFill(ctx, &gateway.Order{
		ID: "sell", FilledQty: 1, AvgFillPrice: 25100, Status: gateway.OrderStatusFilled,
	})

	approx(t, "Quantity", ctx.Positions.Source.Quantity, 0)
	approx(t, "Profit", ctx.Counters.Profit, 100)
	approx(t, "Volume", ctx.Counters.Volume, 2)
}

// TestReconcileFill_UnknownOrderIgnored проверяет что чужой снимок
// не трогает контекст
func TestReconcileFill_UnknownOrderIgnored(t *testing.T) {
	ctx := reconcilerContext()
	baseVersion := ctx.Version

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "foreign", FilledQty: 1, AvgFillPrice: 100, Status: gateway.OrderStatusFilled,
	})

	if result.Applied || result.Discarded {
		t.Errorf("unknown order must be a no-op, got %+v", result)
	}
	if next.Version != baseVersion {
		t.Error("unknown order must not evolve the context")
	}
}

// TestReconcileFill_CancelledPartialKeepsFills проверяет что отмена
// частично исполненного ордера сохраняет учтённые филлы
func TestReconcileFill_CancelledPartialKeepsFills(t *testing.T) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy, Quantity: 1.0,
	})

	next, result := ReconcileFill(ctx, &gateway.Order{
		ID: "o-1", FilledQty: 0.3, AvgFillPrice: 25000, Status: gateway.OrderStatusCancelled,
	})

	if !result.Terminal {
		t.Fatal("cancelled order is terminal")
	}
	approx(t, "Quantity", next.Positions.Source.Quantity, 0.3)
	if _, ok := next.ActiveOrders["o-1"]; ok {
		t.Error("cancelled order must leave the active map")
	}
}

// ============================================================
// Тесты ComputeRebalance
// ============================================================

func TestComputeRebalance(t *testing.T) {
	tests := []struct {
		name      string
		positions models.Positions
		tolerance float64
		wantOrder bool
		wantSide  string
		wantQty   float64
	}{
		{
			name: "hedge lagging emits buy",
			positions: models.Positions{
				Source: models.Position{Quantity: 0.5},
				Dest:   models.Position{Quantity: 0.3},
				Hedge:  models.Position{Quantity: 0.2},
			},
			tolerance: 0,
			wantOrder: true,
			wantSide:  gateway.SideBuy,
			wantQty:   0.6,
		},
		{
			name: "hedge overshoot emits sell",
			positions: models.Positions{
				Source: models.Position{Quantity: 0.1},
				Hedge:  models.Position{Quantity: 0.5},
			},
			tolerance: 0,
			wantOrder: true,
			wantSide:  gateway.SideSell,
			wantQty:   0.4,
		},
		{
			name: "within tolerance is a no-op",
			positions: models.Positions{
				Source: models.Position{Quantity: 0.5},
				Hedge:  models.Position{Quantity: 0.49},
			},
			tolerance: 0.05,
			wantOrder: false,
		},
		{
			name:      "flat book is balanced",
			positions: models.Positions{},
			tolerance: 0,
			wantOrder: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, ok := ComputeRebalance(tt.positions, tt.tolerance)
			if ok != tt.wantOrder {
				t.Fatalf("ComputeRebalance ok = %v, want %v", ok, tt.wantOrder)
			}
			if !ok {
				return
			}
			if req.Role != models.RoleHedge {
				t.Errorf("corrective order role = %s, want hedge", req.Role)
			}
			if req.Side != tt.wantSide {
				t.Errorf("side = %s, want %s", req.Side, tt.wantSide)
			}
			approx(t, "quantity", req.Quantity, tt.wantQty)
			if req.Price != 0 {
				t.Errorf("corrective order must be a market order, got price %v", req.Price)
			}
		})
	}
}

// ============================================================
// Бенчмарки
// ============================================================

func BenchmarkReconcileFill(b *testing.B) {
	ctx := reconcilerContext(models.ActiveOrder{
		OrderID: "o-1", Role: models.RoleSource, Side: gateway.SideBuy, Quantity: 1000,
	})
	snapshot := &gateway.Order{
		ID: "o-1", FilledQty: 0.5, AvgFillPrice: 25000, Status: gateway.OrderStatusPartial,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ReconcileFill(ctx, snapshot)
	}
}

func BenchmarkComputeRebalance(b *testing.B) {
	positions := models.Positions{
		Source: models.Position{Quantity: 0.5},
		Dest:   models.Position{Quantity: 0.3},
		Hedge:  models.Position{Quantity: 0.2},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ComputeRebalance(positions, 0.01)
	}
}
