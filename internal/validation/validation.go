// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/mmeshcher/storefront-system/internal/model"
)

const maxAddressLength = 500

// IsValidAddress проверяет, что адрес доставки непустой и разумной длины.
// Геокодирование и проверка существования адреса не выполняются.
func IsValidAddress(address string) bool {
	trimmed := strings.TrimSpace(address)
	return trimmed != "" && len(trimmed) <= maxAddressLength
}

// ClampQuantity приводит количество к допустимым границам позиции корзины.
func ClampQuantity(quantity int) int {
	if quantity < model.MinCartQuantity {
		return model.MinCartQuantity
	}
	if quantity > model.MaxCartQuantity {
		return model.MaxCartQuantity
	}
	return quantity
}
