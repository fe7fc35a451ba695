package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Бумажная площадка
// ============================================================
//
// PaperVenue - полноценная in-memory реализация Gateway. Используется
// в двух ролях: бэкенд режима DRY_RUN (боевой бинарь без единого
// мутирующего вызова наружу) и управляемая площадка в тестах.
//
// Состояние программируется снаружи: SetTicker, SetOrderBook, Deposit,
// FailNext. Идентификаторы ордеров и выводов детерминированы
// ("<venue>-ord-000001"), журнал сделок в DRY_RUN воспроизводим.

// PaperCluster связывает бумажные площадки: вывод с одной доставляется
// на счёт другой по зарегистрированному адресу пополнения.
type PaperCluster struct {
	mu      sync.Mutex
	venues  map[string]*PaperVenue
	addrs   map[string]paperAddrOwner // address -> владелец
	pending []paperDelivery

	// DeliverManually откладывает доставку выводов до вызова DeliverPending.
	// Используется тестами таймаута ожидания прибытия.
	DeliverManually bool
}

type paperAddrOwner struct {
	venue   string
	asset   string
	account string
}

type paperDelivery struct {
	owner  paperAddrOwner
	amount decimal.Decimal
}

// NewPaperCluster создаёт пустой кластер
func NewPaperCluster() *PaperCluster {
	return &PaperCluster{
		venues: make(map[string]*PaperVenue),
		addrs:  make(map[string]paperAddrOwner),
	}
}

// DeliverPending доставляет все отложенные выводы
func (c *PaperCluster) DeliverPending() {
	c.mu.Lock()
	deliveries := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, d := range deliveries {
		c.credit(d)
	}
}

func (c *PaperCluster) credit(d paperDelivery) {
	c.mu.Lock()
	v := c.venues[d.owner.venue]
	c.mu.Unlock()
	if v == nil {
		return
	}
	v.Deposit(d.owner.account, d.owner.asset, d.amount)
}

func (c *PaperCluster) registerAddress(address string, owner paperAddrOwner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addrs[address] = owner
}

func (c *PaperCluster) deliver(address string, amount decimal.Decimal) {
	c.mu.Lock()
	owner, ok := c.addrs[address]
	if !ok {
		c.mu.Unlock()
		return // вывод в никуда: средства "сгорели", как и на реальной цепи
	}
	d := paperDelivery{owner: owner, amount: amount}
	if c.DeliverManually {
		c.pending = append(c.pending, d)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.credit(d)
}

// PaperVenue - одна бумажная площадка
type PaperVenue struct {
	name    string
	profile *VenueProfile
	cluster *PaperCluster
	caps    Capabilities

	mu          sync.Mutex
	markets     map[string]*Market
	tickers     map[string]*Ticker
	books       map[string]*OrderBook
	currencies  map[string]*Currency
	balances    map[string]map[string]decimal.Decimal // тип счёта -> актив -> free
	orders      map[string]*Order
	addresses   map[string]*DepositAddress // asset|network -> адрес
	failNext    map[string]error           // имя операции -> ошибка на следующий вызов
	partialNext decimal.Decimal            // доля исполнения следующего рыночного ордера
	orderSeq    int
	wdSeq       int
	addrSeq     int
}

// NewPaperVenue создаёт площадку и привязывает её к кластеру
func NewPaperVenue(name string, cluster *PaperCluster, profile *VenueProfile) *PaperVenue {
	if profile == nil {
		profile = DefaultProfile()
	}
	v := &PaperVenue{
		name:    name,
		profile: profile,
		cluster: cluster,
		caps: Capabilities{
			FetchOrderBook:          true,
			FetchCurrencies:         true,
			Transfer:                true,
			Withdraw:                true,
			FetchDepositAddress:     true,
			CreateDepositAddress:    true,
			CreateMarketBuyWithCost: true,
		},
		markets:    make(map[string]*Market),
		tickers:    make(map[string]*Ticker),
		books:      make(map[string]*OrderBook),
		currencies: make(map[string]*Currency),
		balances:   make(map[string]map[string]decimal.Decimal),
		orders:     make(map[string]*Order),
		addresses:  make(map[string]*DepositAddress),
		failNext:   make(map[string]error),
	}
	if cluster != nil {
		cluster.mu.Lock()
		cluster.venues[name] = v
		cluster.mu.Unlock()
	}
	return v
}

// Profile возвращает профиль площадки
func (v *PaperVenue) Profile() *VenueProfile { return v.profile }

// SetCapabilities переопределяет флаги возможностей (для тестов деградации)
func (v *PaperVenue) SetCapabilities(caps Capabilities) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.caps = caps
}

// AddMarket регистрирует рынок
func (v *PaperVenue) AddMarket(m *Market) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markets[m.Symbol] = m
}

// SetTicker задаёт тикер рынка
func (v *PaperVenue) SetTicker(t *Ticker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tickers[t.Symbol] = t
}

// SetOrderBook задаёт стакан рынка
func (v *PaperVenue) SetOrderBook(b *OrderBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.books[b.Symbol] = b
}

// AddCurrency регистрирует валюту с сетями
func (v *PaperVenue) AddCurrency(c *Currency) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.currencies[c.Code] = c
}

// Deposit зачисляет средства на счёт (программирование исходного состояния
// и доставка выводов кластером)
func (v *PaperVenue) Deposit(accountType, asset string, amount decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creditLocked(accountType, asset, amount)
}

func (v *PaperVenue) creditLocked(accountType, asset string, amount decimal.Decimal) {
	acc, ok := v.balances[accountType]
	if !ok {
		acc = make(map[string]decimal.Decimal)
		v.balances[accountType] = acc
	}
	acc[asset] = acc[asset].Add(amount)
}

func (v *PaperVenue) debitLocked(accountType, asset string, amount decimal.Decimal) error {
	acc := v.balances[accountType]
	have := acc[asset]
	if have.LessThan(amount) {
		return &InsufficientFundsError{
			Venue: v.name, Asset: asset,
			Need: amount.String(), Have: have.String(),
		}
	}
	acc[asset] = have.Sub(amount)
	return nil
}

// FreeBalance возвращает свободный остаток (для проверок в тестах)
func (v *PaperVenue) FreeBalance(accountType, asset string) decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[accountType][asset]
}

// FailNext программирует отказ следующего вызова операции
// (op - имя метода Gateway: "FetchOrder", "Withdraw", ...)
func (v *PaperVenue) FailNext(op string, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext[op] = err
}

func (v *PaperVenue) scripted(op string) error {
	if err, ok := v.failNext[op]; ok {
		delete(v.failNext, op)
		return err
	}
	return nil
}

// PartialNext программирует частичное исполнение следующего рыночного
// ордера: исполнится только fraction запрошенного количества, остаток
// попадёт в Remaining закрытого ордера
func (v *PaperVenue) PartialNext(fraction decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.partialNext = fraction
}

// RegisterDepositAddress задаёт адрес пополнения для (asset, network)
// Network - сырое имя, которое площадка вернёт в ответе
func (v *PaperVenue) RegisterDepositAddress(asset, network string, addr *DepositAddress) {
	v.mu.Lock()
	v.addresses[asset+"|"+network] = addr
	v.mu.Unlock()

	if v.cluster != nil && addr.Address != "" {
		v.cluster.registerAddress(addr.Address, paperAddrOwner{
			venue:   v.name,
			asset:   asset,
			account: v.profile.TypeFor(AccountWithdrawal),
		})
	}
}

// ============================================================
// Реализация Gateway
// ============================================================

func (v *PaperVenue) Name() string { return v.name }

func (v *PaperVenue) LoadMarkets(ctx context.Context) (map[string]*Market, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("LoadMarkets"); err != nil {
		return nil, err
	}
	out := make(map[string]*Market, len(v.markets))
	for s, m := range v.markets {
		cp := *m
		out[s] = &cp
	}
	return out, nil
}

func (v *PaperVenue) FetchTickers(ctx context.Context, symbols []string) (map[string]*Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchTickers"); err != nil {
		return nil, err
	}
	out := make(map[string]*Ticker)
	if len(symbols) == 0 {
		for s, t := range v.tickers {
			cp := *t
			out[s] = &cp
		}
		return out, nil
	}
	for _, s := range symbols {
		if t, ok := v.tickers[s]; ok {
			cp := *t
			out[s] = &cp
		}
	}
	return out, nil
}

func (v *PaperVenue) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchTicker"); err != nil {
		return nil, err
	}
	t, ok := v.tickers[symbol]
	if !ok {
		return nil, &ParseError{Venue: v.name, Op: "FetchTicker", Err: fmt.Errorf("no ticker for %s", symbol)}
	}
	cp := *t
	return &cp, nil
}

func (v *PaperVenue) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchOrderBook"); err != nil {
		return nil, err
	}
	b, ok := v.books[symbol]
	if !ok {
		return nil, &ParseError{Venue: v.name, Op: "FetchOrderBook", Err: fmt.Errorf("no order book for %s", symbol)}
	}
	cp := &OrderBook{Symbol: b.Symbol}
	n := len(b.Bids)
	if depth > 0 && depth < n {
		n = depth
	}
	cp.Bids = append(cp.Bids, b.Bids[:n]...)
	n = len(b.Asks)
	if depth > 0 && depth < n {
		n = depth
	}
	cp.Asks = append(cp.Asks, b.Asks[:n]...)
	return cp, nil
}

func (v *PaperVenue) FetchBalance(ctx context.Context, params map[string]string) (*Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchBalance"); err != nil {
		return nil, err
	}

	accountType := params["type"]
	if accountType == "" {
		accountType = v.profile.TypeFor(AccountTrading)
	}

	b := &Balance{
		Free:  make(map[string]decimal.Decimal),
		Used:  make(map[string]decimal.Decimal),
		Total: make(map[string]decimal.Decimal),
	}
	for asset, free := range v.balances[accountType] {
		b.Free[asset] = free
		b.Total[asset] = free
	}
	return b, nil
}

func (v *PaperVenue) FetchCurrencies(ctx context.Context) (map[string]*Currency, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchCurrencies"); err != nil {
		return nil, err
	}
	out := make(map[string]*Currency, len(v.currencies))
	for code, c := range v.currencies {
		out[code] = c
	}
	return out, nil
}

// fillMarketOrder исполняет рыночный ордер по текущему тикеру
// ВАЖНО: вызывается под lock'ом
func (v *PaperVenue) fillMarketOrder(symbol, side string, amountBase, costQuote decimal.Decimal) (*Order, error) {
	m, ok := v.markets[symbol]
	if !ok {
		return nil, &ParseError{Venue: v.name, Op: "createOrder", Err: fmt.Errorf("unknown market %s", symbol)}
	}
	t, ok := v.tickers[symbol]
	if !ok {
		return nil, &ParseError{Venue: v.name, Op: "createOrder", Err: fmt.Errorf("no ticker for %s", symbol)}
	}

	trading := v.profile.TypeFor(AccountTrading)

	var price decimal.Decimal
	if side == SideBuy {
		price = t.BestAsk()
	} else {
		price = t.BestBid()
	}
	if price.Sign() <= 0 {
		return nil, &ParseError{Venue: v.name, Op: "createOrder", Err: fmt.Errorf("no price for %s", symbol)}
	}

	// Кол-во из стоимости либо стоимость из кол-ва
	if amountBase.Sign() == 0 {
		amountBase = costQuote.Div(price)
	}

	requested := amountBase
	if v.partialNext.Sign() > 0 {
		amountBase = amountBase.Mul(v.partialNext)
		v.partialNext = decimal.Zero
	}
	cost := amountBase.Mul(price)

	fee := &Fee{}
	taker := m.TakerFee
	if !m.TakerFeeKnown {
		taker = decimal.New(1, -3) // 0.1%
	}

	v.orderSeq++
	order := &Order{
		ID:        fmt.Sprintf("%s-ord-%06d", v.name, v.orderSeq),
		Symbol:    symbol,
		Side:      side,
		Type:      "market",
		Status:    OrderStatusClosed,
		Amount:    requested,
		Filled:    amountBase,
		Remaining: requested.Sub(amountBase),
		Cost:      cost,
		Average:   price,
		Timestamp: time.Now(),
	}

	if side == SideBuy {
		// Списываем quote, зачисляем base; комиссия в base
		if err := v.debitLocked(trading, m.Quote, cost); err != nil {
			return nil, err
		}
		fee.Amount = amountBase.Mul(taker)
		fee.Currency = m.Base
		v.creditLocked(trading, m.Base, amountBase.Sub(fee.Amount))
	} else {
		// Списываем base, зачисляем quote; комиссия в quote
		if err := v.debitLocked(trading, m.Base, amountBase); err != nil {
			return nil, err
		}
		fee.Amount = cost.Mul(taker)
		fee.Currency = m.Quote
		v.creditLocked(trading, m.Quote, cost.Sub(fee.Amount))
	}
	order.Fee = fee

	v.orders[order.ID] = order
	return order, nil
}

func (v *PaperVenue) CreateMarketBuyOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("CreateMarketBuyOrder"); err != nil {
		return nil, err
	}
	return v.fillMarketOrder(symbol, SideBuy, amount, decimal.Zero)
}

func (v *PaperVenue) CreateMarketBuyOrderWithCost(ctx context.Context, symbol string, cost decimal.Decimal, params map[string]string) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("CreateMarketBuyOrderWithCost"); err != nil {
		return nil, err
	}
	if !v.caps.CreateMarketBuyWithCost {
		return nil, &NotSupportedError{Venue: v.name, Op: "CreateMarketBuyOrderWithCost"}
	}
	return v.fillMarketOrder(symbol, SideBuy, decimal.Zero, cost)
}

func (v *PaperVenue) CreateMarketSellOrder(ctx context.Context, symbol string, amount decimal.Decimal, params map[string]string) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("CreateMarketSellOrder"); err != nil {
		return nil, err
	}
	return v.fillMarketOrder(symbol, SideSell, amount, decimal.Zero)
}

func (v *PaperVenue) FetchOrder(ctx context.Context, id, symbol string) (*Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchOrder"); err != nil {
		return nil, err
	}
	o, ok := v.orders[id]
	if !ok {
		return nil, &OrderNotFoundError{Venue: v.name, OrderID: id, Symbol: symbol}
	}
	cp := *o
	return &cp, nil
}

func (v *PaperVenue) CancelOrder(ctx context.Context, id, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("CancelOrder"); err != nil {
		return err
	}
	o, ok := v.orders[id]
	if !ok {
		return &OrderNotFoundError{Venue: v.name, OrderID: id, Symbol: symbol}
	}
	if !o.IsTerminal() {
		o.Status = OrderStatusCanceled
	}
	return nil
}

func (v *PaperVenue) Transfer(ctx context.Context, asset string, amount decimal.Decimal, fromType, toType string, params map[string]string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("Transfer"); err != nil {
		return err
	}
	if !v.caps.Transfer {
		return &NotSupportedError{Venue: v.name, Op: "Transfer"}
	}
	if fromType == toType {
		// Площадки без разделения счетов отклоняют перевод в самого себя
		return &ParseError{Venue: v.name, Op: "Transfer", Err: fmt.Errorf("transfer between identical account types %q", fromType)}
	}
	if err := v.debitLocked(fromType, asset, amount); err != nil {
		return err
	}
	v.creditLocked(toType, asset, amount)
	return nil
}

func (v *PaperVenue) Withdraw(ctx context.Context, asset string, amount decimal.Decimal, address, tag string, params map[string]string) (string, error) {
	v.mu.Lock()
	if err := v.scripted("Withdraw"); err != nil {
		v.mu.Unlock()
		return "", err
	}
	if !v.caps.Withdraw {
		v.mu.Unlock()
		return "", &NotSupportedError{Venue: v.name, Op: "Withdraw"}
	}

	withdrawal := v.profile.TypeFor(AccountWithdrawal)
	if err := v.debitLocked(withdrawal, asset, amount); err != nil {
		v.mu.Unlock()
		return "", err
	}

	// Комиссия сети списывается из переводимой суммы
	fee := decimal.Zero
	networkCode := params["network"]
	if c, ok := v.currencies[asset]; ok {
		for _, n := range c.Networks {
			if n.ID == networkCode {
				fee = n.Fee
				break
			}
		}
	}
	arriving := amount.Sub(fee)
	if arriving.Sign() < 0 {
		arriving = decimal.Zero
	}

	v.wdSeq++
	id := fmt.Sprintf("%s-wd-%06d", v.name, v.wdSeq)
	cluster := v.cluster
	v.mu.Unlock()

	if cluster != nil {
		cluster.deliver(address, arriving)
	}
	return id, nil
}

func (v *PaperVenue) FetchDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.scripted("FetchDepositAddress"); err != nil {
		return nil, err
	}

	network := params["network"]
	if network != "" {
		if addr, ok := v.addresses[asset+"|"+network]; ok {
			cp := *addr
			return &cp, nil
		}
		return nil, &ParseError{Venue: v.name, Op: "FetchDepositAddress", Err: fmt.Errorf("no address for %s on %s", asset, network)}
	}

	// Без подсказки сети возвращаем первый зарегистрированный адрес актива
	for key, addr := range v.addresses {
		if strings.HasPrefix(key, asset+"|") {
			cp := *addr
			return &cp, nil
		}
	}
	return nil, &ParseError{Venue: v.name, Op: "FetchDepositAddress", Err: fmt.Errorf("no address for %s", asset)}
}

func (v *PaperVenue) CreateDepositAddress(ctx context.Context, asset string, params map[string]string) (*DepositAddress, error) {
	v.mu.Lock()
	if err := v.scripted("CreateDepositAddress"); err != nil {
		v.mu.Unlock()
		return nil, err
	}
	if !v.caps.CreateDepositAddress {
		v.mu.Unlock()
		return nil, &NotSupportedError{Venue: v.name, Op: "CreateDepositAddress"}
	}
	network := params["network"]
	v.addrSeq++
	addr := &DepositAddress{
		Address: fmt.Sprintf("%s-addr-%s-%s-%03d", v.name, asset, network, v.addrSeq),
		Network: network,
	}
	v.mu.Unlock()

	v.RegisterDepositAddress(asset, network, addr)
	return addr, nil
}

func (v *PaperVenue) Has() Capabilities {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.caps
}

func (v *PaperVenue) SetTimeout(d time.Duration) {}
