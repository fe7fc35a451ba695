package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway определяет унифицированный интерфейс шлюза одной площадки
//
// Все денежные величины - decimal.Decimal, распарсенные из строк ответа
// площадки. Каждый вызов принимает context для отмены и таймаута цикла.
type Gateway interface {
	// Name возвращает идентификатор площадки
	Name() string

	// LoadMarkets загружает метаданные спотовых рынков
	LoadMarkets(ctx context.Context) (map[string]*Market, error)

	// FetchTickers получает тикеры пачкой; пустой список символов = все
	FetchTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error)

	// FetchTicker получает один тикер
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)

	// FetchOrderBook получает стакан с заданной глубиной
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// FetchBalance получает балансы; params выбирает тип счёта площадки
	FetchBalance(ctx context.Context, params map[string]string) (*Balance, error)

	// FetchCurrencies загружает метаданные валют с перечнем сетей
	FetchCurrencies(ctx context.Context) (map[string]*Currency, error)

	// CreateMarketBuyOrder размещает рыночную покупку на количество базового актива
	CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error)

	// CreateMarketBuyOrderWithCost размещает рыночную покупку на сумму котируемого актива
	CreateMarketBuyOrderWithCost(ctx context.Context, symbol string, cost decimal.Decimal, params map[string]string) (*Order, error)

	// CreateMarketSellOrder размещает рыночную продажу
	CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error)

	// FetchOrder получает текущее состояние ордера
	FetchOrder(ctx context.Context, id, symbol string) (*Order, error)

	// CancelOrder отменяет ордер
	CancelOrder(ctx context.Context, id, symbol string) error

	// Transfer переводит средства между типами счетов площадки
	// Возвращает NotSupportedError если площадка не поддерживает переводы
	Transfer(ctx context.Context, asset string, amount decimal.Decimal, fromType, toType string, params map[string]string) error

	// Withdraw выводит актив на внешний адрес; возвращает id вывода
	Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, tag string, params map[string]string) (string, error)

	// FetchDepositAddress получает адрес пополнения
	FetchDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error)

	// CreateDepositAddress создаёт адрес пополнения (опционально)
	CreateDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error)

	// Has возвращает флаги поддерживаемых операций
	Has() Capabilities

	// SetTimeout задаёт таймаут на один вызов API
	SetTimeout(d time.Duration)
}

// Capabilities - флаги возможностей площадки
type Capabilities struct {
	FetchOrderBook           bool
	FetchCurrencies          bool
	Transfer                 bool
	Withdraw                 bool
	FetchDepositAddress      bool
	CreateDepositAddress     bool
	CreateMarketBuyWithCost  bool
}

// Market - метаданные одного рынка
type Market struct {
	Symbol          string          `json:"symbol"` // BASE/QUOTE
	Base            string          `json:"base"`
	Quote           string          `json:"quote"`
	Active          bool            `json:"active"`
	Spot            bool            `json:"spot"`
	TakerFee        decimal.Decimal `json:"taker_fee"` // доля, 0.001 = 0.1%
	TakerFeeKnown   bool            `json:"taker_fee_known"`
	AmountPrecision decimal.Decimal `json:"amount_precision"` // шаг количества
	MinAmount       decimal.Decimal `json:"min_amount"`
	MinCost         decimal.Decimal `json:"min_cost"`
}

// Ticker - снимок цен одного рынка
// Нулевое значение поля означает "площадка не прислала"
type Ticker struct {
	Symbol string          `json:"symbol"`
	Last   decimal.Decimal `json:"last"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Close  decimal.Decimal `json:"close"`
}

// BestAsk возвращает цену покупки с фолбэком ask -> last -> close
func (t *Ticker) BestAsk() decimal.Decimal {
	if t.Ask.Sign() > 0 {
		return t.Ask
	}
	if t.Last.Sign() > 0 {
		return t.Last
	}
	return t.Close
}

// BestBid возвращает цену продажи с фолбэком bid -> last -> close
func (t *Ticker) BestBid() decimal.Decimal {
	if t.Bid.Sign() > 0 {
		return t.Bid
	}
	if t.Last.Sign() > 0 {
		return t.Last
	}
	return t.Close
}

// OrderBookLevel - уровень цены в стакане
type OrderBookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook - стакан ордеров
type OrderBook struct {
	Symbol string           `json:"symbol"`
	Bids   []OrderBookLevel `json:"bids"` // по убыванию цены
	Asks   []OrderBookLevel `json:"asks"` // по возрастанию цены
}

// Balance - балансы счёта по активам
type Balance struct {
	Free  map[string]decimal.Decimal `json:"free"`
	Used  map[string]decimal.Decimal `json:"used"`
	Total map[string]decimal.Decimal `json:"total"`
}

// NetworkInfo - сведения площадки об одной сети актива
type NetworkInfo struct {
	ID          string          `json:"id"` // нативный код сети на площадке
	Active      bool            `json:"active"`
	Withdraw    bool            `json:"withdraw"`
	Deposit     bool            `json:"deposit"`
	Fee         decimal.Decimal `json:"fee"`
	FeeKnown    bool            `json:"fee_known"`
	FeeCurrency string          `json:"fee_currency"`
	MinWithdraw decimal.Decimal `json:"min_withdraw"`
}

// Currency - метаданные актива с перечнем сетей
type Currency struct {
	Code           string                  `json:"code"`
	Precision      decimal.Decimal         `json:"precision"`
	PrecisionKnown bool                    `json:"precision_known"`
	Networks       map[string]*NetworkInfo `json:"networks"` // ключ - сырое имя сети площадки
}

// Статусы ордера
const (
	OrderStatusOpen     = "open"
	OrderStatusClosed   = "closed"
	OrderStatusCanceled = "canceled"
	OrderStatusRejected = "rejected"
	OrderStatusExpired  = "expired"
)

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Fee - комиссия ордера
type Fee struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Order - состояние ордера
type Order struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Cost      decimal.Decimal `json:"cost"`
	Average   decimal.Decimal `json:"average"`
	Fee       *Fee            `json:"fee,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Info      string          `json:"info,omitempty"` // сырой ответ площадки
}

// IsTerminal возвращает true если ордер больше не изменится
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusClosed, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// DepositAddress - адрес пополнения
type DepositAddress struct {
	Address string `json:"address"`
	Tag     string `json:"tag,omitempty"` // memo/tag, обязателен для части активов
	Network string `json:"network"`       // сырое имя сети площадки
}
