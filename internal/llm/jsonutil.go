package llm

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ExtractJSON 从模型回复中截取第一个完整的 JSON 对象，跳过 ```json 代码块标记和字符串内的花括号
func ExtractJSON(text string) string {
	text = strings.TrimPrefix(text, "\uFEFF")
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			if inner := extractObject(rest[:j]); inner != "" {
				return inner
			}
		}
	}
	return extractObject(text)
}

func extractObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			level++
		case c == '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// SanitizeJSON 把字符串字面量内部未转义的双引号改写为 \"。
// 判断依据：真正结束字符串的引号之后的首个非空白字符必然是 : , ] } 之一。
func SanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				break
			}
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j >= len(src) || src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}' {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString("\\\"")
			}
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
			continue
		case inStr && (c == '\n' || c == '\r'):
			// 字符串内的裸换行不是合法 JSON
			b.WriteString("\\n")
		default:
			b.WriteByte(c)
		}
		escaped = false
	}

	return b.String()
}

// DecodeJSON 从回复中提取 JSON 并反序列化，失败时修复后重试一次
func DecodeJSON(content string, out any) error {
	jsonStr := ExtractJSON(content)
	if jsonStr == "" && isNullReply(content) {
		// 提示词允许模型在没有信息时回复 null，按空对象处理
		jsonStr = "{}"
	}
	if jsonStr == "" {
		return fmt.Errorf("%w: %s", ErrNoJSON, truncate(content, 200))
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	err := json.Unmarshal([]byte(jsonStr), out)
	if err == nil {
		return nil
	}
	fixed := SanitizeJSON(jsonStr)
	if fixErr := json.Unmarshal([]byte(fixed), out); fixErr != nil {
		return fmt.Errorf("%w: %v (after sanitize: %v)", ErrInvalidJSON, err, fixErr)
	}
	return nil
}

func isNullReply(content string) bool {
	s := strings.TrimSpace(strings.TrimPrefix(content, "\uFEFF"))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.EqualFold(strings.TrimSpace(s), "null")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
