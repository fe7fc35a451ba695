package utils

import "github.com/shopspring/decimal"

// ============================================================
// Decimal-хелперы для денежной арифметики
// ============================================================
//
// Все суммы и количества в системе - decimal.Decimal, распарсенные из строк.
// float64 для денег не используется нигде: двоичный дрейф на 8-м знаке
// превращает "хватает баланса" в "не хватает" ровно в худший момент.

// Epsilon - допуск для сравнения денежных величин (10^-8)
var Epsilon = decimal.New(1, -8)

// Hundred - константа 100 для перевода долей в проценты
var Hundred = decimal.NewFromInt(100)

// AlmostEqual возвращает true если |a-b| < Epsilon
func AlmostEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(Epsilon)
}

// GTE возвращает true если a >= b с учётом допуска Epsilon
// (a считается достаточным, даже если меньше b на величину < Epsilon)
func GTE(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThan(Epsilon.Neg()) || a.Equal(b)
}

// PctOf возвращает part/whole*100; ноль при whole <= 0
func PctOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.Sign() <= 0 {
		return decimal.Zero
	}
	return part.Div(whole).Mul(Hundred)
}

// QuantizeDown округляет amount ВНИЗ до кратного quantum
//
// Гарантии (используются при расчёте количеств ордеров и переводов):
//   - QuantizeDown(x, q) <= x
//   - QuantizeDown(QuantizeDown(x, q), q) == QuantizeDown(x, q)
//
// При quantum <= 0 возвращает amount без изменений.
func QuantizeDown(amount, quantum decimal.Decimal) decimal.Decimal {
	if quantum.Sign() <= 0 {
		return amount
	}
	steps := amount.Div(quantum).Floor()
	q := steps.Mul(quantum)
	// Деление с ограниченной точностью могло округлить steps вверх -
	// страховка сохраняет инвариант q <= amount
	if q.GreaterThan(amount) {
		q = q.Sub(quantum)
	}
	return q
}

// ParsePrice парсит цену из строки; пустая строка или мусор -> (Zero, false)
func ParsePrice(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
