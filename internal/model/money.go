package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency identifies a settlement currency or token.
type Currency string

// Party is an opaque account identity (operator or counterparty).
type Party string

// Money is an exact amount in a single currency. All ledger arithmetic is
// decimal, never floating point.
type Money struct {
	Currency Currency        `json:"currency"`
	Value    decimal.Decimal `json:"value"`
}

func NewMoney(c Currency, v decimal.Decimal) Money {
	return Money{Currency: c, Value: v}
}

func (m Money) IsPositive() bool { return m.Value.IsPositive() }

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Value.String(), m.Currency)
}
