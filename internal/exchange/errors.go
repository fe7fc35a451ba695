package exchange

import "fmt"

// ============================================================
// Таксономия ошибок площадок
// ============================================================
//
// Каждый тип несёт имя площадки и исходную ошибку (Unwrap).
// Retryable() определяет, имеет ли смысл повторять вызов:
// транспортные сбои - да, ошибки аутентификации и разбора - нет.

// NetworkError - транспортный сбой: таймаут, rate limit, недоступность
type NetworkError struct {
	Venue string
	Op    string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %s: network error: %v", e.Venue, e.Op, e.Err)
}
func (e *NetworkError) Unwrap() error   { return e.Err }
func (e *NetworkError) Retryable() bool { return true }

// AuthError - неверные учётные данные; площадка далее не используется
type AuthError struct {
	Venue string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Venue, e.Err)
}
func (e *AuthError) Unwrap() error   { return e.Err }
func (e *AuthError) Retryable() bool { return false }

// ParseError - неожиданная форма ответа; затронутая сущность отбрасывается
type ParseError struct {
	Venue string
	Op    string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s: parse error: %v", e.Venue, e.Op, e.Err)
}
func (e *ParseError) Unwrap() error   { return e.Err }
func (e *ParseError) Retryable() bool { return false }

// OrderNotFoundError - площадка не знает такого ордера
//
// Сразу после размещения market-ордера допускается один повтор:
// некоторые площадки отдают ордер в fetch_order с задержкой.
type OrderNotFoundError struct {
	Venue   string
	OrderID string
	Symbol  string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("%s: order %s (%s) not found", e.Venue, e.OrderID, e.Symbol)
}
func (e *OrderNotFoundError) Retryable() bool { return false }

// InsufficientFundsError - недостаточно средств для операции
type InsufficientFundsError struct {
	Venue  string
	Asset  string
	Need   string
	Have   string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("%s: insufficient %s: need %s, have %s", e.Venue, e.Asset, e.Need, e.Have)
}
func (e *InsufficientFundsError) Retryable() bool { return false }

// NotSupportedError - площадка не поддерживает операцию
type NotSupportedError struct {
	Venue string
	Op    string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s: operation %s not supported", e.Venue, e.Op)
}
func (e *NotSupportedError) Retryable() bool { return false }
