package domain

import "errors"

// DefaultStockOption names the stock row created with every event.
const DefaultStockOption = "DEFAULT"

var ErrInvalidReplenishCount = errors.New("replenish count must be positive")

// Stock is the remaining inventory of wins for one event option.
type Stock struct {
	EventID   int64  `json:"event_id"`
	Option    string `json:"option"`
	Remaining int64  `json:"remaining"`
}

// HasStock reports whether at least one unit remains.
func (s *Stock) HasStock() bool {
	return s != nil && s.Remaining > 0
}

// NormalizeStockOption maps an empty option to the default one.
func NormalizeStockOption(option string) string {
	if option == "" {
		return DefaultStockOption
	}
	return option
}
