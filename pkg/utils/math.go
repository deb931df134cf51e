package utils

import (
	"math"
)

// math.go - математические утилиты исполнения
//
// Все функции чистые, без побочных эффектов.
//
// Функции:
// - RoundToLotSize: округление объёма до шага биржи
// - BlendAvgPrice: обновление средневзвешенной цены при доливке филла
// - CalculateWeightedAverage: средневзвешенное значение (VWAP)

// RoundToLotSize округляет значение ВНИЗ до ближайшего кратного lotSize.
//
// Округление вниз гарантирует что объём ордера не превысит
// доступные средства.
//
// Примеры:
//   - RoundToLotSize(0.123456, 0.001) = 0.123
//   - RoundToLotSize(1.999, 0.01) = 1.99
func RoundToLotSize(value, lotSize float64) float64 {
	if lotSize <= 0 {
		return value
	}
	return math.Floor(value/lotSize) * lotSize
}

// BlendAvgPrice обновляет средневзвешенную цену позиции при доливке.
//
// Формула:
//
//	avg' = (|qty| × avg + delta × fillPrice) / (|qty| + delta)
//
// Параметры:
//   - qty: текущий объём позиции (знаковый)
//   - avg: текущая средневзвешенная цена
//   - delta: приращение объёма филла (строго > 0)
//   - fillPrice: средняя цена приращения
//
// Возвращает:
//   - Новую средневзвешенную цену
//   - При delta <= 0 возвращает avg без изменений
func BlendAvgPrice(qty, avg, delta, fillPrice float64) float64 {
	if delta <= 0 {
		return avg
	}
	base := math.Abs(qty)
	total := base + delta
	if total == 0 {
		return avg
	}
	return (base*avg + delta*fillPrice) / total
}

// CalculateWeightedAverage вычисляет средневзвешенное значение (VWAP).
//
// Формула:
//
//	VWAP = Σ(value_i × weight_i) / Σ(weight_i)
//
// Возвращает 0 при некорректных входных данных.
func CalculateWeightedAverage(values, weights []float64) float64 {
	if len(values) == 0 || len(values) != len(weights) {
		return 0
	}

	var sumWeighted, sumWeights float64
	for i := range values {
		if weights[i] < 0 {
			continue // Пропускаем отрицательные веса
		}
		sumWeighted += values[i] * weights[i]
		sumWeights += weights[i]
	}

	if sumWeights == 0 {
		return 0
	}
	return sumWeighted / sumWeights
}

// Abs возвращает абсолютное значение числа
func Abs(x float64) float64 {
	return math.Abs(x)
}
