// internal/format/derived.go
package format

import (
	"github.com/shopspring/decimal"

	"eink-power-cli/internal/model"
)

// DerivedValue is a reading converted to a base SI unit
type DerivedValue struct {
	Label string
	Value decimal.Decimal
	Unit  string
}

func (d DerivedValue) String() string {
	return d.Label + ": " + d.Value.StringFixed(3) + " " + d.Unit
}

var thousand = decimal.NewFromInt(1000)

var conversions = []struct {
	field string
	label string
	unit  string
}{
	{"voltage_mv", "Voltage", "V"},
	{"current_ma", "Current", "A"},
	{"charge_mah", "Charge", "Ah"},
	{"power_mw", "Power", "W"},
}

// Derive converts milli-unit readings and computes power from voltage and
// current when the controller did not report it
func Derive(m *model.Measurement) []DerivedValue {
	var out []DerivedValue
	for _, c := range conversions {
		q, ok := m.Get(c.field)
		if !ok {
			continue
		}
		out = append(out, DerivedValue{
			Label: c.label,
			Value: decimal.NewFromInt(q.Value).Div(thousand),
			Unit:  c.unit,
		})
	}

	if _, ok := m.Get("power_mw"); !ok {
		v, vok := m.Get("voltage_mv")
		i, iok := m.Get("current_ma")
		if vok && iok {
			// mV * mA = µW
			watts := decimal.NewFromInt(v.Value).Mul(decimal.NewFromInt(i.Value)).Div(decimal.NewFromInt(1_000_000))
			out = append(out, DerivedValue{Label: "Power (calculated)", Value: watts, Unit: "W"})
		}
	}
	return out
}
