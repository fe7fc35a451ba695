package exchange

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Credentials - ключи API одной площадки
type Credentials struct {
	APIKey   string
	Secret   string
	Password string
}

// GatewayFactory создаёт шлюз площадки по ключам
//
// Профиль описывает особенности площадки (разбор балансов, типы
// счетов); nil означает профиль по умолчанию.
type GatewayFactory func(creds Credentials, log *zap.Logger) (Gateway, *VenueProfile, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]GatewayFactory)
)

// Register регистрирует фабрику шлюза площадки
//
// Вызывается из init() пакета-коннектора, по образцу драйверов
// database/sql. Повторная регистрация имени - ошибка программиста.
func Register(name string, factory GatewayFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("exchange: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("exchange: Register called twice for " + name)
	}
	registry[name] = factory
}

// NewGateway создаёт шлюз зарегистрированной площадки
func NewGateway(name string, creds Credentials, log *zap.Logger) (Gateway, *VenueProfile, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("exchange: unknown venue %q (registered: %v)", name, Registered())
	}
	gw, profile, err := factory(creds, log)
	if err != nil {
		return nil, nil, err
	}
	if profile == nil {
		profile = DefaultProfile()
	}
	return gw, profile, nil
}

// Registered возвращает имена зарегистрированных площадок
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
