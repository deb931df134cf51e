package bot

import (
	"multileg/internal/gateway"
	"multileg/internal/models"
	"multileg/pkg/utils"
)

// reconciler.go - сверка филлов и позиций
//
// Чистая свёртка снимка ордера в состояние позиций:
// никаких вызовов шлюза, никаких побочных эффектов.
// Вызывающий код (обработчик MONITORING) сам решает что делать
// с результатом: обновить контекст, выставить корректирующий
// ордер, записать метрику.

// FillResult - итог сверки одного снимка ордера
type FillResult struct {
	// Applied: снимок принадлежал задаче и был учтён
	Applied bool

	// Discarded: снимок отброшен как устаревший (отрицательная дельта)
	Discarded bool

	// Terminal: ордер достиг терминального статуса и снят с учёта
	Terminal bool

	// Delta - принятое приращение исполненного объёма
	Delta float64

	// CashDelta - знаковое изменение денежного потока:
	// покупка тратит (минус), продажа приносит (плюс)
	CashDelta float64
}

// ReconcileFill сворачивает свежий снимок ордера в контекст задачи.
//
// Правила:
//   - ордер не из карты активных: снимок игнорируется
//   - delta = new.filled - prev.filled
//   - delta < 0: устаревший снимок, отбрасывается целиком,
//     prev остаётся авторитетным
//   - delta == 0 при неизменном статусе: контекст не меняется,
//     версия не поднимается
//   - delta > 0: позиция ноги qty += delta × sign(side),
//     средняя цена обновляется взвешенно, Volume += delta,
//     Profit += -sign × delta × цена филла
//   - терминальный статус: ордер покидает карту активных
//
// Исходный контекст не меняется.
func ReconcileFill(ctx models.TaskContext, snapshot *gateway.Order) (models.TaskContext, FillResult) {
	prev, ok := ctx.ActiveOrders[snapshot.ID]
	if !ok {
		return ctx, FillResult{}
	}

	delta := snapshot.FilledQty - prev.FilledQty
	if delta < 0 {
		// Биржа прислала снимок старее уже учтённого
		return ctx, FillResult{Discarded: true, Delta: delta}
	}

	// Снимок без приращения и без смены статуса не поднимает версию:
	// задача с одним живым ордером не должна переписывать свой
	// снимок на диск каждый тик
	if delta == 0 && snapshot.Status == prev.Status && !gateway.IsTerminalStatus(snapshot.Status) {
		return ctx, FillResult{Applied: true}
	}

	result := FillResult{Applied: true, Delta: delta}
	muts := make([]models.Mutation, 0, 4)

	if delta > 0 {
		sign := gateway.SideSign(prev.Side)
		pos := ctx.Positions.Get(prev.Role)

		newPos := models.Position{
			Quantity: pos.Quantity + sign*delta,
			AvgPrice: utils.BlendAvgPrice(pos.Quantity, pos.AvgPrice, delta, snapshot.AvgFillPrice),
		}
		muts = append(muts, models.WithPosition(prev.Role, newPos))

		result.CashDelta = -sign * delta * snapshot.AvgFillPrice
		counters := ctx.Counters
		counters.Volume += delta
		counters.Profit += result.CashDelta
		muts = append(muts, models.WithCounters(counters))
	}

	if gateway.IsTerminalStatus(snapshot.Status) {
		result.Terminal = true
		muts = append(muts, models.WithoutOrder(snapshot.ID))
	} else {
		updated := prev
		updated.FilledQty = snapshot.FilledQty
		updated.AvgFillPrice = snapshot.AvgFillPrice
		updated.Status = snapshot.Status
		muts = append(muts, models.WithOrder(updated))
	}

	return ctx.Evolve(muts...), result
}

// ComputeRebalance решает нужен ли корректирующий ордер хеджа.
//
// imbalance = Σ(не-hedge ноги) - hedge. При |imbalance| > tolerance
// возвращается ровно один рыночный ордер на роль hedge:
// BUY при положительном дисбалансе, SELL при отрицательном,
// объём |imbalance|.
func ComputeRebalance(positions models.Positions, tolerance float64) (gateway.OrderRequest, bool) {
	imbalance := positions.Imbalance()
	if utils.Abs(imbalance) <= tolerance {
		return gateway.OrderRequest{}, false
	}

	side := gateway.SideBuy
	if imbalance < 0 {
		side = gateway.SideSell
	}
	return gateway.OrderRequest{
		Role:     models.RoleHedge,
		Side:     side,
		Quantity: utils.Abs(imbalance),
	}, true
}
