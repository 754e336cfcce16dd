package schedule

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

var (
	ratZero    = new(big.Rat)
	ratHundred = big.NewRat(100, 1)
)

// Money is an exact, currency-tagged amount. The zero value is "unset": it has
// neither an amount nor a currency.
type Money struct {
	amount   *big.Rat
	currency string
}

// NewMoney copies amount and tags it with the normalised currency code. A nil
// amount is treated as zero.
func NewMoney(amount *big.Rat, currency string) Money {
	m := Money{amount: new(big.Rat), currency: normalizeCurrency(currency)}
	if amount != nil {
		m.amount.Set(amount)
	}
	return m
}

// ParseMoney parses a decimal ("12.50") or fractional ("1/3") amount.
func ParseMoney(amount, currency string) (Money, error) {
	value, err := ParseRat(amount)
	if err != nil {
		return Money{}, err
	}
	return NewMoney(value, currency), nil
}

// MustMoney is ParseMoney for constants. It panics on malformed input.
func MustMoney(amount, currency string) Money {
	m, err := ParseMoney(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroMoney returns zero in the given currency.
func ZeroMoney(currency string) Money { return NewMoney(nil, currency) }

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (m Money) unset() bool { return m.amount == nil && m.currency == "" }

// Amount returns a copy of the amount.
func (m Money) Amount() *big.Rat {
	if m.amount == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(m.amount)
}

// Currency returns the upper-case currency code.
func (m Money) Currency() string { return m.currency }

// Sign reports -1, 0 or +1.
func (m Money) Sign() int {
	if m.amount == nil {
		return 0
	}
	return m.amount.Sign()
}

func (m Money) rat() *big.Rat {
	if m.amount == nil {
		return ratZero
	}
	return m.amount
}

// Add returns m+other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("money: cannot add %s to %s", other.currency, m.currency)
	}
	return NewMoney(new(big.Rat).Add(m.rat(), other.rat()), m.currency), nil
}

// Sub returns m-other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("money: cannot subtract %s from %s", other.currency, m.currency)
	}
	return NewMoney(new(big.Rat).Sub(m.rat(), other.rat()), m.currency), nil
}

// Percent returns m * pct / 100 in the same currency.
func (m Money) Percent(pct *big.Rat) Money {
	out := new(big.Rat).Mul(m.rat(), ratOrZero(pct))
	out.Quo(out, ratHundred)
	return NewMoney(out, m.currency)
}

// Equal reports exact equality of amount and currency.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.rat().Cmp(other.rat()) == 0
}

// String renders the amount followed by the currency code.
func (m Money) String() string {
	if m.currency == "" {
		return FormatRat(m.rat())
	}
	return FormatRat(m.rat()) + " " + m.currency
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON encodes the amount as an exact decimal or fraction string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: FormatRat(m.rat()), Currency: m.currency})
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	if m == nil {
		return fmt.Errorf("money: nil receiver")
	}
	if string(data) == "null" {
		*m = Money{}
		return nil
	}
	var wire moneyJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if strings.TrimSpace(wire.Amount) == "" && strings.TrimSpace(wire.Currency) == "" {
		*m = Money{}
		return nil
	}
	parsed, err := ParseMoney(wire.Amount, wire.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseRat parses an exact rational from decimal ("0.125") or fraction ("1/8")
// notation.
func ParseRat(value string) (*big.Rat, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("rational: empty value")
	}
	out, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("rational: invalid value %q", value)
	}
	return out, nil
}

// MustRat is ParseRat for constants. It panics on malformed input.
func MustRat(value string) *big.Rat {
	out, err := ParseRat(value)
	if err != nil {
		panic(err)
	}
	return out
}

// FormatRat writes r as an exact decimal when its expansion terminates and as
// a reduced fraction otherwise.
func FormatRat(r *big.Rat) string {
	if r == nil {
		return "0"
	}
	if r.IsInt() {
		return r.Num().String()
	}
	digits, ok := terminatingDigits(r.Denom())
	if !ok {
		return r.RatString()
	}
	return r.FloatString(digits)
}

// terminatingDigits returns the number of fractional digits needed to write
// 1/denom exactly, or false when denom has a prime factor other than 2 or 5.
func terminatingDigits(denom *big.Int) (int, bool) {
	d := new(big.Int).Set(denom)
	two, five := big.NewInt(2), big.NewInt(5)
	rem := new(big.Int)
	twos, fives := 0, 0
	for {
		q, r := new(big.Int).QuoRem(d, two, rem)
		if r.Sign() != 0 {
			break
		}
		d = q
		twos++
	}
	for {
		q, r := new(big.Int).QuoRem(d, five, rem)
		if r.Sign() != 0 {
			break
		}
		d = q
		fives++
	}
	if d.Cmp(big.NewInt(1)) != 0 {
		return 0, false
	}
	if twos > fives {
		return twos, true
	}
	return fives, true
}

func ratOrZero(r *big.Rat) *big.Rat {
	if r == nil {
		return ratZero
	}
	return r
}

func copyRat(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return new(big.Rat).Set(r)
}

func withinTolerance(a, b, tolerance *big.Rat) bool {
	diff := new(big.Rat).Sub(ratOrZero(a), ratOrZero(b))
	return diff.Abs(diff).Cmp(ratOrZero(tolerance)) <= 0
}
