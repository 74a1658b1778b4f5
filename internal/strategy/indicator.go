package strategy

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Ranking indicator names every state publishes regardless of its signal provider.
const (
	IndicatorVolume = "volume"
	IndicatorNATR   = "natr"
)

// IndicatorKind tags the variant held by an IndicatorValue.
type IndicatorKind int

const (
	KindNumber IndicatorKind = iota
	KindBool
	KindEnum
)

func (k IndicatorKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("IndicatorKind(%d)", int(k))
	}
}

// IndicatorValue is a closed variant: a number, a boolean or an enum tag.
// Build it with Number, Bool or Enum and switch on Kind.
type IndicatorValue struct {
	kind IndicatorKind
	num  decimal.Decimal
	b    bool
	tag  string
}

func Number(v decimal.Decimal) IndicatorValue { return IndicatorValue{kind: KindNumber, num: v} }

// NumberFromFloat converts talib outputs. NaN and infinities become zero.
func NumberFromFloat(v float64) IndicatorValue {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number(decimal.Zero)
	}
	return Number(decimal.NewFromFloat(v))
}

func Bool(v bool) IndicatorValue { return IndicatorValue{kind: KindBool, b: v} }

func Enum(tag string) IndicatorValue { return IndicatorValue{kind: KindEnum, tag: tag} }

func (v IndicatorValue) Kind() IndicatorKind { return v.kind }

// AsNumber returns the numeric payload and whether the value is numeric.
func (v IndicatorValue) AsNumber() (decimal.Decimal, bool) { return v.num, v.kind == KindNumber }

func (v IndicatorValue) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v IndicatorValue) AsEnum() (string, bool) { return v.tag, v.kind == KindEnum }

func (v IndicatorValue) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindEnum:
		return v.tag
	default:
		return v.num.String()
	}
}

func (v IndicatorValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return json.Marshal(v.b)
	case KindEnum:
		return json.Marshal(v.tag)
	default:
		return json.Marshal(v.num.InexactFloat64())
	}
}

// Indicator is a named value published for ranking and inspection.
type Indicator struct {
	Name  string         `json:"name"`
	Value IndicatorValue `json:"value"`
}

// Indicators is a snapshot taken from one evaluation.
type Indicators []Indicator

// Number looks up a numeric indicator by name.
func (in Indicators) Number(name string) (decimal.Decimal, bool) {
	for _, i := range in {
		if i.Name == name {
			return i.Value.AsNumber()
		}
	}
	return decimal.Zero, false
}
