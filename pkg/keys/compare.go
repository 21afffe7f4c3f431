package keys

import (
	"math/big"
	"strings"
)

// kindRank orders keys of different kinds relative to each other
var kindRank = map[Kind]int{
	KindBoolean: 0,
	KindInteger: 1,
	KindDecimal: 1,
	KindString:  2,
	KindGUID:    3,
}

// Compare returns -1, 0 or 1. Numeric keys compare by value regardless of integer/decimal kind,
// keys of different kinds compare by kind rank, and everything else compares by canonical text.
func Compare(a, b KeyValue) int {
	if a.IsNumeric() && b.IsNumeric() {
		if a.canonical == b.canonical {
			return 0
		}
		ra, okA := new(big.Rat).SetString(a.canonical)
		rb, okB := new(big.Rat).SetString(b.canonical)
		if okA && okB {
			return ra.Cmp(rb)
		}
	}

	if ra, rb := kindRank[a.kind], kindRank[b.kind]; ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	return strings.Compare(a.canonical, b.canonical)
}

// Less reports whether a sorts before b
func Less(a, b KeyValue) bool {
	return Compare(a, b) < 0
}
