package memory

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/kailas-cloud/nova/internal/domain/body"
)

// compareValues orders two values: -1, 0 or 1. Values of different kinds
// order as null < number < string < bool < time < other.
func compareValues(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return sign(ra - rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankNumber:
		fa, _ := body.ToFloat(a)
		fb, _ := body.ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

const (
	rankNull = iota
	rankNumber
	rankString
	rankBool
	rankTime
	rankOther
)

func rank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case string:
		return rankString
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	}
	if _, ok := body.ToFloat(v); ok {
		return rankNumber
	}
	return rankOther
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// equal compares scalars by value and composites structurally.
func equal(a, b any) bool {
	ra, rb := rank(a), rank(b)
	if ra != rankOther || rb != rankOther {
		return ra == rb && compareValues(a, b) == 0
	}
	return reflect.DeepEqual(a, b)
}

// orderable reports whether ordering operators apply between a and b.
func orderable(a, b any) bool {
	ra := rank(a)
	return ra == rank(b) && ra != rankOther && ra != rankNull
}
