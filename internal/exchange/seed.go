package exchange

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Загрузка бумажного кластера из seed-файла (режим DRY_RUN)
// ============================================================

// SeedAddress - адрес пополнения в seed-файле
type SeedAddress struct {
	Asset   string         `json:"asset"`
	Network string         `json:"network"`
	Address DepositAddress `json:"address"`
}

// SeedVenue - описание одной бумажной площадки
type SeedVenue struct {
	Markets    []*Market     `json:"markets"`
	Tickers    []*Ticker     `json:"tickers"`
	OrderBooks []*OrderBook  `json:"order_books"`
	Currencies []*Currency   `json:"currencies"`
	Addresses  []SeedAddress `json:"deposit_addresses"`

	// Balances: тип счёта -> актив -> количество
	Balances map[string]map[string]decimal.Decimal `json:"balances"`
}

// Seed - полное описание бумажного кластера
type Seed struct {
	Venues map[string]*SeedVenue `json:"venues"`
}

// LoadSeed читает seed-файл
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if len(seed.Venues) < 2 {
		return nil, fmt.Errorf("seed file %s: need at least 2 venues, got %d", path, len(seed.Venues))
	}
	return &seed, nil
}

// Build создаёт бумажный кластер по описанию
//
// Все площадки получают профиль по умолчанию: единый счёт,
// автоопределение точности.
func (s *Seed) Build() (*PaperCluster, map[string]*PaperVenue) {
	cluster := NewPaperCluster()
	venues := make(map[string]*PaperVenue, len(s.Venues))

	for name, sv := range s.Venues {
		v := NewPaperVenue(name, cluster, nil)
		for _, m := range sv.Markets {
			v.AddMarket(m)
		}
		for _, t := range sv.Tickers {
			v.SetTicker(t)
		}
		for _, b := range sv.OrderBooks {
			v.SetOrderBook(b)
		}
		for _, c := range sv.Currencies {
			v.AddCurrency(c)
		}
		for _, a := range sv.Addresses {
			addr := a.Address
			v.RegisterDepositAddress(a.Asset, a.Network, &addr)
		}
		for accountType, assets := range sv.Balances {
			for asset, amount := range assets {
				v.Deposit(accountType, asset, amount)
			}
		}
		venues[name] = v
	}
	return cluster, venues
}
