package repository

import (
	"database/sql"
	"errors"

	jsoniter "github.com/json-iterator/go"

	"crossarb/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades
//
// Таблица хранит только терминальные сделки: по одной строке на
// завершённую (успешно или нет) арбитражную попытку. Колонка detail
// несёт полный JSON журнала сделки со всеми плечами.
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create сохраняет терминальную сделку
func (r *TradeRepository) Create(trade *models.CompletedArbitrageLog) (int64, error) {
	detail, err := json.Marshal(trade)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO trades (buy_venue, sell_venue, symbol, status, network_used, initial_buy_cost_quote, quote_received, final_net_profit_quote, final_net_profit_pct, started_at, finished_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	var id int64
	err = r.db.QueryRow(
		query,
		trade.Opportunity.BuyVenue,
		trade.Opportunity.SellVenue,
		trade.Opportunity.Symbol,
		trade.Status,
		trade.NetworkUsed,
		trade.InitialBuyCostQuote,
		trade.QuoteReceived,
		trade.FinalNetProfitQuote,
		trade.FinalNetProfitPct,
		trade.StartedAt,
		trade.FinishedAt,
		string(detail),
	).Scan(&id)

	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetByID возвращает сделку по ID
func (r *TradeRepository) GetByID(id int64) (*models.TradeRecord, error) {
	query := `
		SELECT id, buy_venue, sell_venue, symbol, status, network_used, initial_buy_cost_quote, quote_received, final_net_profit_quote, final_net_profit_pct, started_at, finished_at, detail
		FROM trades
		WHERE id = $1`

	rec := &models.TradeRecord{}
	err := r.db.QueryRow(query, id).Scan(
		&rec.ID,
		&rec.BuyVenue,
		&rec.SellVenue,
		&rec.Symbol,
		&rec.Status,
		&rec.NetworkUsed,
		&rec.InitialBuyCostQuote,
		&rec.QuoteReceived,
		&rec.FinalNetProfitQuote,
		&rec.FinalNetProfitPct,
		&rec.StartedAt,
		&rec.FinishedAt,
		&rec.Detail,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	return rec, nil
}

// GetRecent возвращает последние сделки, новые первыми
func (r *TradeRepository) GetRecent(limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, buy_venue, sell_venue, symbol, status, network_used, initial_buy_cost_quote, quote_received, final_net_profit_quote, final_net_profit_pct, started_at, finished_at, detail
		FROM trades
		ORDER BY finished_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TradeRecord
	for rows.Next() {
		rec := &models.TradeRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.BuyVenue,
			&rec.SellVenue,
			&rec.Symbol,
			&rec.Status,
			&rec.NetworkUsed,
			&rec.InitialBuyCostQuote,
			&rec.QuoteReceived,
			&rec.FinalNetProfitQuote,
			&rec.FinalNetProfitPct,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.Detail,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// GetByStatus возвращает сделки с указанным терминальным статусом
func (r *TradeRepository) GetByStatus(status string, limit int) ([]*models.TradeRecord, error) {
	query := `
		SELECT id, buy_venue, sell_venue, symbol, status, network_used, initial_buy_cost_quote, quote_received, final_net_profit_quote, final_net_profit_pct, started_at, finished_at, detail
		FROM trades
		WHERE status = $1
		ORDER BY finished_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.TradeRecord
	for rows.Next() {
		rec := &models.TradeRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.BuyVenue,
			&rec.SellVenue,
			&rec.Symbol,
			&rec.Status,
			&rec.NetworkUsed,
			&rec.InitialBuyCostQuote,
			&rec.QuoteReceived,
			&rec.FinalNetProfitQuote,
			&rec.FinalNetProfitPct,
			&rec.StartedAt,
			&rec.FinishedAt,
			&rec.Detail,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// Count возвращает количество сделок в истории
func (r *TradeRepository) Count() (int, error) {
	query := `SELECT COUNT(*) FROM trades`

	var count int
	err := r.db.QueryRow(query).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// Stats возвращает сводку по истории сделок
func (r *TradeRepository) Stats() (*models.TradeStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COALESCE(SUM(final_net_profit_quote), 0)
		FROM trades`

	stats := &models.TradeStats{}
	err := r.db.QueryRow(query, models.StatusCompletedSuccess, models.StatusCompletedLoss).Scan(
		&stats.Total,
		&stats.Successful,
		&stats.Losses,
		&stats.TotalProfitQuote,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
