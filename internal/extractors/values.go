package extractors

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// floatValue 把模型返回的数字或数字字符串转成 float64
func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// normalizeEnum 小写后在 allowed 中则返回，否则返回 unknown
func normalizeEnum(v any, allowed ...string) string {
	s := strings.ToLower(strings.TrimSpace(stringValue(v)))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return "unknown"
}

var nonDigit = regexp.MustCompile(`\D`)

// FormatPhone 美国号码格式化为 1-XXX-XXX-XXXX，其他号码原样返回
func FormatPhone(v string) string {
	digits := nonDigit.ReplaceAllString(v, "")
	switch {
	case len(digits) == 11 && digits[0] == '1':
		return fmt.Sprintf("1-%s-%s-%s", digits[1:4], digits[4:7], digits[7:])
	case len(digits) == 10 && digits[0] >= '2' && digits[0] <= '9':
		return fmt.Sprintf("1-%s-%s-%s", digits[0:3], digits[3:6], digits[6:])
	}
	return v
}

// listOfMaps 取出 []map 形式的字段，非 map 元素丢弃
func listOfMaps(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return []map[string]any{}
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := strings.TrimSpace(stringValue(it)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func orDefault(v any, def string) string {
	if s := strings.TrimSpace(stringValue(v)); s != "" {
		return s
	}
	return def
}
