package models

import "strings"

// zeroDecimalCurrencies have no minor unit (amounts are already whole units).
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {},
	"mga": {}, "pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {},
	"xof": {}, "xpf": {},
}

// MinorUnitExponent returns the number of decimal places between the major
// and the minor unit of a currency.
func MinorUnitExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}
