package schedule

import (
	"encoding/json"
	"math/big"
	"testing"
)

func TestFormatRat(t *testing.T) {
	cases := map[string]string{
		"12.5":   "12.5",
		"100":    "100",
		"0.125":  "0.125",
		"1/3":    "1/3",
		"-7/20":  "-0.35",
		"10/4":   "2.5",
		"1/1024": "0.0009765625",
	}
	for in, want := range cases {
		if got := FormatRat(MustRat(in)); got != want {
			t.Fatalf("FormatRat(%s) = %s, want %s", in, got, want)
		}
	}
	if FormatRat(nil) != "0" {
		t.Fatalf("expected nil to format as 0")
	}
}

func TestParseRatRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "  ", "twelve", "1/0"} {
		if _, err := ParseRat(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := MustMoney("10.10", "gbp")
	b := MustMoney("0.20", "GBP")
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !sum.Equal(MustMoney("10.3", "GBP")) {
		t.Fatalf("sum = %s", sum)
	}
	if _, err := a.Add(MustMoney("1", "USD")); err == nil {
		t.Fatalf("expected currency error")
	}
	if got := MustMoney("1000", "GBP").Percent(MustRat("12.5")); !got.Equal(MustMoney("125", "GBP")) {
		t.Fatalf("percent = %s", got)
	}
	if a.String() != "10.1 GBP" {
		t.Fatalf("string = %s", a.String())
	}
}

func TestMoneyAmountIsCopy(t *testing.T) {
	source := big.NewRat(5, 1)
	m := NewMoney(source, "GBP")
	source.SetInt64(9)
	amount := m.Amount()
	amount.SetInt64(11)
	if m.Amount().Cmp(big.NewRat(5, 1)) != 0 {
		t.Fatalf("money shared its amount: %s", m)
	}
}

func TestMoneyJSON(t *testing.T) {
	for _, m := range []Money{MustMoney("12.5", "GBP"), MustMoney("1/3", "EUR"), ZeroMoney("USD")} {
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Money
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !decoded.Equal(m) {
			t.Fatalf("decoded %s, want %s", decoded, m)
		}
	}
	raw, _ := json.Marshal(MustMoney("0.1", "GBP"))
	if string(raw) != `{"amount":"0.1","currency":"GBP"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}
}
