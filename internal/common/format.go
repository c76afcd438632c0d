// Package common — format.go форматирует суммы для описаний транзакций и логов.
package common

import "fmt"

// FormatSigned создаёт строку вида "+100 primary" или "-50 premium".
// Знак «+» или «-» добавляется автоматически.
//
// Примеры:
//
//	FormatSigned(100, "primary") → "+100 primary"
//	FormatSigned(-50, "premium") → "-50 premium"
func FormatSigned(amount int64, unit string) string {
	if amount >= 0 {
		return fmt.Sprintf("+%s %s", FormatNumber(amount), unit)
	}
	return fmt.Sprintf("%s %s", FormatNumber(amount), unit)
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	// Рекурсивно добавляем разделители
	return fmt.Sprintf("%s %03d", FormatNumber(n/1000), n%1000)
}
