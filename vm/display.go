package vm

import (
	"strconv"
	"strings"
)

// Tibetan renderings of the boolean literals.
const (
	TrueText  = "བདེན"
	FalseText = "རྫུན"
)

// TibetanNumeral renders n with Tibetan digits (U+0F20..U+0F29). Negative
// numbers keep an ASCII minus sign.
func TibetanNumeral(n int64) string {
	digits := strconv.FormatInt(n, 10)
	var sb strings.Builder
	sb.Grow(len(digits) * 3)
	for _, r := range digits {
		if r >= '0' && r <= '9' {
			sb.WriteRune('༠' + (r - '0'))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Display returns the text Print writes for v.
func Display(v Value) string {
	switch x := v.(type) {
	case nil, Nil:
		return "nil"
	case Int:
		return TibetanNumeral(int64(x))
	case Bool:
		if x {
			return TrueText
		}
		return FalseText
	case *GcString:
		return x.Data
	case *GcArray:
		return "[array:" + strconv.Itoa(len(x.Elements)) + "]"
	case *GcStruct:
		return "{struct:" + strconv.Itoa(x.Len()) + "}"
	case *Function:
		if x.Name == "" {
			return "<script>"
		}
		return "<fn " + x.Name + ">"
	case RawFunction:
		return "<native>"
	default:
		return "<unknown>"
	}
}
