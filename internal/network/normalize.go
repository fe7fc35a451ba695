package network

import "strings"

// Канонические спец-имена
//
// UNKNOWN_NETWORK - имя не удалось нормализовать; никогда не совпадает.
// DEFAULT - площадка вернула адрес без указания сети.
const (
	UnknownNetwork = "UNKNOWN_NETWORK"
	DefaultNetwork = "DEFAULT"
)

// Normalizer - табличная нормализация имён сетей
//
// Каждая площадка пишет имя сети по-своему: "ETH", "Ethereum", "ERC-20",
// "ETH(ERC20)". Нормализация чистит строку (верхний регистр, без
// пунктуации и скобок) и ищет её в таблице алиасов. Чистая функция,
// идемпотентна: канонические имена являются её неподвижными точками.
type Normalizer struct {
	aliases map[string]string // очищенный алиас -> каноническое имя
}

// DefaultAliases - базовая таблица алиасов; операторская конфигурация
// дополняет её собственными записями
func DefaultAliases() map[string][]string {
	return map[string][]string{
		"ERC20":    {"ETH", "ETHEREUM", "ERC20", "ETHERC20"},
		"BEP20":    {"BSC", "BNB", "BEP20", "BNBSMARTCHAIN", "BSCBEP20"},
		"TRC20":    {"TRX", "TRON", "TRC20", "TRXTRC20"},
		"SOLANA":   {"SOL", "SOLANA", "SPL"},
		"POLYGON":  {"MATIC", "POLYGON", "POL"},
		"ARBITRUM": {"ARB", "ARBITRUM", "ARBITRUMONE"},
		"OPTIMISM": {"OP", "OPTIMISM"},
		"AVAXC":    {"AVAX", "AVAXC", "AVALANCHE", "AVALANCHECCHAIN", "CCHAIN"},
		"BTC":      {"BTC", "BITCOIN"},
		"TON":      {"TON", "TONCOIN", "THEOPENNETWORK"},
		"APTOS":    {"APT", "APTOS"},
		"BASE":     {"BASE", "BASEMAINNET"},
	}
}

// NewNormalizer строит нормализатор из таблицы каноническое имя -> алиасы
//
// Каноническое имя всегда добавляется как алиас самого себя.
func NewNormalizer(aliases map[string][]string) *Normalizer {
	n := &Normalizer{aliases: make(map[string]string)}
	for canonical, raws := range aliases {
		n.aliases[clean(canonical)] = canonical
		for _, raw := range raws {
			n.aliases[clean(raw)] = canonical
		}
	}
	return n
}

// clean приводит имя к виду для поиска: верхний регистр, только буквы и цифры
func clean(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize возвращает каноническое имя сети
//
// Пустой вход -> DEFAULT; неизвестное имя -> UNKNOWN_NETWORK.
func (n *Normalizer) Normalize(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return DefaultNetwork
	}
	cleaned := clean(raw)
	if cleaned == "" {
		return UnknownNetwork
	}
	if canonical, ok := n.aliases[cleaned]; ok {
		return canonical
	}
	if cleaned == clean(DefaultNetwork) {
		return DefaultNetwork
	}
	if cleaned == clean(UnknownNetwork) {
		return UnknownNetwork
	}
	return UnknownNetwork
}

// Matchable возвращает true если имя может участвовать в сопоставлении
// вывод-ввод (спец-имена не сопоставляются)
func Matchable(normalized string) bool {
	return normalized != UnknownNetwork && normalized != DefaultNetwork
}

// Compatible проверяет совместимость запрошенной и возвращённой сети
// при получении адреса пополнения
//
// Возвращённый DEFAULT при конкретном запросе совместим (площадка
// не размечает адреса по сетям). Запрошенный DEFAULT/UNKNOWN при
// конкретном ответе - нет.
func Compatible(requested, returned string) bool {
	if requested == returned && Matchable(requested) {
		return true
	}
	if returned == DefaultNetwork && Matchable(requested) {
		return true
	}
	return false
}
