package service

import (
	"bytes"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

// NormalizeItems суммирует повторяющиеся товары и выбрасывает неположительные количества.
// Порядок: первое появление товара во входе. Сумма по товару больше MaxInt32 даёт ErrInvalidQuantity.
func NormalizeItems(items []Item) ([]Item, error) {
	idx := make(map[uuid.UUID]int, len(items))
	totals := make([]int64, 0, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			totals[i] += int64(it.Quantity)
			if totals[i] > math.MaxInt32 {
				return nil, fmt.Errorf("%w: product %s total exceeds %d", ErrInvalidQuantity, it.ProductID, math.MaxInt32)
			}
			out[i].Quantity = int32(totals[i])
			continue
		}
		idx[it.ProductID] = len(out)
		totals = append(totals, int64(it.Quantity))
		out = append(out, it)
	}
	return out, nil
}

// ascending: порядок взятия блокировок, одинаковый для всех транзакций.
func ascending(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(out)
}

func sortedLines(lines []Item) []Item {
	out := slices.Clone(lines)
	slices.SortFunc(out, func(a, b Item) int { return bytes.Compare(a.ProductID[:], b.ProductID[:]) })
	return out
}
