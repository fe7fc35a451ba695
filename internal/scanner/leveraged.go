package scanner

import "regexp"

// Детектор маржинальных токенов
//
// Маржинальные токены (BTC3L, ETHUP, ADABULL) котируются как спот,
// но их цена не арбитражится переводом: у токена нет общей цепи
// между площадками. Такие символы исключаются из общих пар.
var leveragedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^[A-Z0-9]{1,10}[1-5][SL]$`),
	regexp.MustCompile(`(?i)^[A-Z0-9]{1,10}(UP|DOWN)$`),
	regexp.MustCompile(`(?i)^[A-Z0-9]{1,10}(BULL|BEAR)$`),
	regexp.MustCompile(`(?i)[0-9][SL]$`),
}

// IsLeveragedToken возвращает true для базового актива маржинального токена
func IsLeveragedToken(base string) bool {
	for _, p := range leveragedPatterns {
		if p.MatchString(base) {
			return true
		}
	}
	return false
}
