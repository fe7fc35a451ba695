package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"crossarb/internal/network"
	"crossarb/pkg/crypto"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config содержит всю конфигурацию приложения
//
// Загруженный bundle неизменяемый: компоненты получают свои куски
// через конструкторы и никогда не пишут обратно.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Trading  TradingConfig
	Timing   TimingConfig
	Tables   TablesConfig
	Venues   VenuesConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки операторского HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
//
// Persistence опциональна: при Enabled=false бот работает только с
// журналом сделок, без таблиц trades и path_blacklist.
type DatabaseConfig struct {
	Enabled  bool
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// AES-256 ключ (32 байта) для расшифровки API-ключей площадок;
	// пустой ключ означает, что ключи заданы открытым текстом
	EncryptionKey string

	// bcrypt-хеш операторского токена; пустой хеш отключает auth
	APITokenHash string
}

// TradingConfig - торговые параметры
type TradingConfig struct {
	Quote             string
	TradeAmount       decimal.Decimal
	MinEffectiveTrade decimal.Decimal
	MinGross          decimal.Decimal // %
	MaxGross          decimal.Decimal // %
	MinNet            decimal.Decimal // %
	StabilityCycles   int
	TopN              int
	MinLiquidity      decimal.Decimal // в котируемой валюте
	SlippagePct       decimal.Decimal
	DefaultTakerPct   decimal.Decimal
	ReserveBuffer     decimal.Decimal
	TransferFeeBuffer decimal.Decimal
	JITMinConversion  decimal.Decimal
	JITAssets         []string

	CostOrderDenylist []string
	RetryPartialBuy   bool
	HoldOpenOrders    bool
	EnforceWhitelist  bool
}

// TimingConfig - таймауты и периодика
type TimingConfig struct {
	JITFundingWait      time.Duration
	BaseTransferWait    time.Duration // 0 = 3x JITFundingWait
	ArrivalPollInterval time.Duration
	OrderPollAttempts   int
	OrderPollDelay      time.Duration
	CycleSleep          time.Duration
	PostTradeCooldown   time.Duration
	MaxCycles           int64 // 0 = без ограничения
	CurrencyCacheTTL    time.Duration
}

// TablesConfig - операторские таблицы (JSON-значения переменных окружения)
type TablesConfig struct {
	// NetworkAliases - каноническое имя -> сырые алиасы площадок
	NetworkAliases map[string][]string

	// GeneralNetworkPreference - глобальный порядок предпочтения сетей
	GeneralNetworkPreference []string

	// TokenNetworkPreference - per-asset порядок предпочтения
	TokenNetworkPreference map[string][]string

	// AssetBlacklist - venue -> исключённые активы
	AssetBlacklist map[string][]string

	// AssetUnavailable - venue -> активы с недоступным вводом/выводом
	AssetUnavailable map[string][]string

	// TokenRestrictions - venue -> asset -> разрешённые сети
	TokenRestrictions map[string]map[string][]string

	// PathBlacklist - запрещённые пути "ASSET|from|to|NETWORK"
	PathBlacklist []string

	// Whitelist - разрешённые пути (тот же формат ключа)
	Whitelist []string

	// MemoRequired - venue -> активы, требующие memo/tag при депозите
	MemoRequired map[string][]string

	// StaticWithdrawFees - venue -> asset -> операторская таблица комиссий
	StaticWithdrawFees map[string]map[string][]network.StaticNetworkFee

	// EstimatedPrices - оценочные цены активов в котируемой валюте
	// (fallback оракула, когда нет рынка ASSET/QUOTE)
	EstimatedPrices map[string]decimal.Decimal

	// StableAssets - активы, считающиеся равными котируемой валюте
	StableAssets []string
}

// VenueCredentials - API-ключи одной площадки
//
// При заданном ENCRYPTION_KEY значения полей ожидаются в виде
// base64(AES-256-GCM) и расшифровываются в Load.
type VenueCredentials struct {
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	Password string `json:"password,omitempty"`
}

// VenuesConfig - подключаемые площадки
type VenuesConfig struct {
	// DryRun: мутирующие вызовы не делаются, ордера и переводы
	// синтезируются бумажными площадками
	DryRun bool

	// Credentials - venue -> ключи (в dry-run не требуются)
	Credentials map[string]VenueCredentials

	// SeedFile - описание бумажного кластера для dry-run
	SeedFile string

	// RateLimit/RateBurst - token bucket на вызовы API одной площадки
	RateLimit float64
	RateBurst float64

	// JournalPath - файл NDJSON журнала сделок; пустой путь отключает журнал
	JournalPath string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "crossarb"),
			User:     getEnv("DB_USER", "crossarb"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			APITokenHash:  getEnv("API_TOKEN_HASH", ""),
		},
		Trading: TradingConfig{
			Quote:             getEnv("QUOTE_ASSET", "USDT"),
			TradeAmount:       getEnvAsDecimal("TRADE_AMOUNT", "100"),
			MinEffectiveTrade: getEnvAsDecimal("MIN_EFFECTIVE_TRADE", "50"),
			MinGross:          getEnvAsDecimal("MIN_GROSS", "0.5"),
			MaxGross:          getEnvAsDecimal("MAX_GROSS", "13"),
			MinNet:            getEnvAsDecimal("MIN_NET", "0.3"),
			StabilityCycles:   getEnvAsInt("STABILITY_CYCLES", 2),
			TopN:              getEnvAsInt("TOP_N", 3),
			MinLiquidity:      getEnvAsDecimal("MIN_LIQUIDITY", "200"),
			SlippagePct:       getEnvAsDecimal("SLIPPAGE_PCT", "1"),
			DefaultTakerPct:   getEnvAsDecimal("DEFAULT_TAKER_PCT", "0.1"),
			ReserveBuffer:     getEnvAsDecimal("RESERVE_BUFFER", "50"),
			TransferFeeBuffer: getEnvAsDecimal("TRANSFER_FEE_BUFFER", "5"),
			JITMinConversion:  getEnvAsDecimal("JIT_MIN_CONVERSION", "100"),
			JITAssets:         getEnvAsStringList("JIT_ASSETS", []string{"BTC", "ETH", "USDC"}),
			CostOrderDenylist: getEnvAsStringList("COST_ORDER_DENYLIST", nil),
			RetryPartialBuy:   getEnvAsBool("RETRY_PARTIAL_BUY", false),
			HoldOpenOrders:    getEnvAsBool("HOLD_OPEN_ORDERS", false),
			EnforceWhitelist:  getEnvAsBool("ENFORCE_WHITELIST", false),
		},
		Timing: TimingConfig{
			JITFundingWait:      getEnvAsDuration("JIT_FUNDING_WAIT", 3*time.Minute),
			BaseTransferWait:    getEnvAsDuration("BASE_TRANSFER_WAIT", 0),
			ArrivalPollInterval: getEnvAsDuration("ARRIVAL_POLL_INTERVAL", 15*time.Second),
			OrderPollAttempts:   getEnvAsInt("ORDER_POLL_ATTEMPTS", 10),
			OrderPollDelay:      getEnvAsDuration("ORDER_POLL_DELAY", 2*time.Second),
			CycleSleep:          getEnvAsDuration("CYCLE_SLEEP", 5*time.Second),
			PostTradeCooldown:   getEnvAsDuration("POST_TRADE_COOLDOWN", 30*time.Second),
			MaxCycles:           int64(getEnvAsInt("MAX_CYCLES", 0)),
			CurrencyCacheTTL:    getEnvAsDuration("CURRENCY_CACHE_TTL", 10*time.Minute),
		},
		Venues: VenuesConfig{
			DryRun:      getEnvAsBool("DRY_RUN", true),
			SeedFile:    getEnv("SEED_FILE", "seed.json"),
			RateLimit:   getEnvAsFloat("VENUE_RATE_LIMIT", 10),
			RateBurst:   getEnvAsFloat("VENUE_RATE_BURST", 20),
			JournalPath: getEnv("JOURNAL_PATH", "trades.ndjson"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := loadTables(&cfg.Tables); err != nil {
		return nil, err
	}

	if err := getEnvAsJSON("VENUE_CREDENTIALS", &cfg.Venues.Credentials); err != nil {
		return nil, err
	}

	if err := cfg.decryptCredentials(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadTables разбирает JSON-значения операторских таблиц
func loadTables(t *TablesConfig) error {
	t.EstimatedPrices = map[string]decimal.Decimal{}
	t.StableAssets = getEnvAsStringList("STABLE_ASSETS", []string{"USDT", "USDC", "DAI"})
	t.GeneralNetworkPreference = getEnvAsStringList("GENERAL_NETWORK_PREFERENCE", []string{"TRC20", "BEP20", "ERC20"})
	t.PathBlacklist = getEnvAsStringList("PATH_BLACKLIST", nil)
	t.Whitelist = getEnvAsStringList("PATH_WHITELIST", nil)

	for key, dst := range map[string]interface{}{
		"NETWORK_ALIASES":          &t.NetworkAliases,
		"TOKEN_NETWORK_PREFERENCE": &t.TokenNetworkPreference,
		"ASSET_BLACKLIST":          &t.AssetBlacklist,
		"ASSET_UNAVAILABLE":        &t.AssetUnavailable,
		"TOKEN_RESTRICTIONS":       &t.TokenRestrictions,
		"MEMO_REQUIRED":            &t.MemoRequired,
		"STATIC_WITHDRAW_FEES":     &t.StaticWithdrawFees,
		"ESTIMATED_PRICES":         &t.EstimatedPrices,
	} {
		if err := getEnvAsJSON(key, dst); err != nil {
			return err
		}
	}

	return nil
}

// decryptCredentials расшифровывает API-ключи, если задан ENCRYPTION_KEY
func (c *Config) decryptCredentials() error {
	key := c.Security.EncryptionKey
	if key == "" || len(c.Venues.Credentials) == 0 {
		return nil
	}
	if len(key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256, got %d", len(key))
	}

	for venue, creds := range c.Venues.Credentials {
		var err error
		if creds.APIKey, err = crypto.Decrypt(creds.APIKey, []byte(key)); err != nil {
			return fmt.Errorf("decrypt api key for %s: %w", venue, err)
		}
		if creds.Secret, err = crypto.Decrypt(creds.Secret, []byte(key)); err != nil {
			return fmt.Errorf("decrypt secret for %s: %w", venue, err)
		}
		if creds.Password != "" {
			if creds.Password, err = crypto.Decrypt(creds.Password, []byte(key)); err != nil {
				return fmt.Errorf("decrypt password for %s: %w", venue, err)
			}
		}
		c.Venues.Credentials[venue] = creds
	}

	return nil
}

// validate проверяет критичные параметры
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Trading.Quote == "" {
		return fmt.Errorf("QUOTE_ASSET cannot be empty")
	}
	if c.Trading.TradeAmount.Sign() <= 0 {
		return fmt.Errorf("TRADE_AMOUNT must be positive, got %s", c.Trading.TradeAmount)
	}
	if c.Trading.MinGross.Sign() < 0 {
		return fmt.Errorf("MIN_GROSS cannot be negative, got %s", c.Trading.MinGross)
	}
	if !c.Trading.MaxGross.GreaterThan(c.Trading.MinGross) {
		return fmt.Errorf("MAX_GROSS %s must exceed MIN_GROSS %s", c.Trading.MaxGross, c.Trading.MinGross)
	}
	if c.Trading.StabilityCycles < 1 {
		return fmt.Errorf("STABILITY_CYCLES must be at least 1, got %d", c.Trading.StabilityCycles)
	}
	if c.Trading.TopN < 1 {
		return fmt.Errorf("TOP_N must be at least 1, got %d", c.Trading.TopN)
	}

	if c.Timing.JITFundingWait <= 0 {
		return fmt.Errorf("JIT_FUNDING_WAIT must be positive, got %v", c.Timing.JITFundingWait)
	}
	if c.Timing.OrderPollAttempts < 1 {
		return fmt.Errorf("ORDER_POLL_ATTEMPTS must be at least 1, got %d", c.Timing.OrderPollAttempts)
	}
	if c.Timing.OrderPollDelay <= 0 {
		return fmt.Errorf("ORDER_POLL_DELAY must be positive, got %v", c.Timing.OrderPollDelay)
	}

	if !c.Venues.DryRun {
		if len(c.Venues.Credentials) < 2 {
			return fmt.Errorf("live mode requires credentials for at least 2 venues, got %d", len(c.Venues.Credentials))
		}
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// BaseTransferWaitOrDefault возвращает таймаут прибытия базового
// актива; незаданный равен утроенному JIT_FUNDING_WAIT
func (t TimingConfig) BaseTransferWaitOrDefault() time.Duration {
	if t.BaseTransferWait > 0 {
		return t.BaseTransferWait
	}
	return 3 * t.JITFundingWait
}

// SetMap превращает venue -> список в venue -> множество
// (формат, который принимают анализатор и селектор сетей)
func SetMap(lists map[string][]string) map[string]map[string]bool {
	if len(lists) == 0 {
		return nil
	}
	out := make(map[string]map[string]bool, len(lists))
	for venue, items := range lists {
		set := make(map[string]bool, len(items))
		for _, item := range items {
			set[item] = true
		}
		out[venue] = set
	}
	return out
}

// Set превращает список в множество
func Set(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item] = true
	}
	return out
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return decimal.RequireFromString(defaultValue)
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}
	return value
}

// getEnvAsStringList разбирает JSON-массив строк
func getEnvAsStringList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	if err := json.Unmarshal([]byte(valueStr), &out); err != nil {
		return defaultValue
	}
	return out
}

// getEnvAsJSON разбирает JSON-значение в указанную структуру;
// кривой JSON в операторской таблице - ошибка загрузки, не дефолт
func getEnvAsJSON(key string, dst interface{}) error {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(valueStr), dst); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", key, err)
	}
	return nil
}
