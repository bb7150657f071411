package models

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// The producer forwards order bodies unvalidated, so field decoding never
// fails on a type mismatch. A malformed order reaches the handler, which
// decides what to do with it, instead of being dead-lettered as
// undecodable.

// Text is a string field that also accepts numbers, booleans and nested
// values.
type Text string

func (s *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = textOf(v)
	return nil
}

func (s *Text) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	*s = textOf(v)
	return nil
}

func textOf(v any) Text {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return Text(v)
	case []byte:
		return Text(v)
	case float64:
		return Text(strconv.FormatFloat(v, 'f', -1, 64))
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return Text(fmt.Sprint(v))
		}
		return Text(b)
	default:
		return Text(fmt.Sprint(v))
	}
}

// Quantity is an order quantity as sent. Numeric strings are parsed;
// anything else that is not a finite number decodes as zero.
type Quantity float64

// Int returns q as an int when it is a whole number.
func (q Quantity) Int() (int, bool) {
	f := float64(q)
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

func (q *Quantity) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*q = quantityOf(v)
	return nil
}

func (q *Quantity) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	*q = quantityOf(v)
	return nil
}

// EncodeMsgpack writes whole quantities as integers.
func (q Quantity) EncodeMsgpack(enc *msgpack.Encoder) error {
	if n, ok := q.Int(); ok {
		return enc.EncodeInt(int64(n))
	}
	return enc.EncodeFloat64(float64(q))
}

func quantityOf(v any) Quantity {
	var f float64
	switch v := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(rv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(rv.Uint())
		case reflect.Float32, reflect.Float64:
			f = rv.Float()
		default:
			return 0
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return Quantity(f)
}
