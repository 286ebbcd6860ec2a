package processor

import (
	"regexp"
	"strings"
	"time"
)

// MaxTextLength 是清洗后文本的最大字符数。
const MaxTextLength = 500

const canonicalDateLayout = "2006-01-02"

var dateLayouts = []string{
	"2006-01-02",
	"20060102",
	"2006.01.02",
	"2006/01/02",
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	disallowedRe = regexp.MustCompile(`[^\p{L}\p{N}_\s가-힣()\[\].,;:\-+/%&@!?'"]`)
)

// NormalizeDate 将多种日期写法转换为 YYYY-MM-DD，无法识别时返回 false，
// 由调用方决定默认值。
func NormalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "null" {
		return "", false
	}
	for _, layout := range dateLayouts {
		candidate := s
		// 只允许以空格或 T 开头的时间后缀，如 "2025-09-01 00:00:00"。
		if len(candidate) > len(layout) {
			if next := candidate[len(layout)]; next != ' ' && next != 'T' {
				continue
			}
			candidate = candidate[:len(layout)]
		}
		t, err := time.Parse(layout, candidate)
		if err != nil {
			continue
		}
		return t.Format(canonicalDateLayout), true
	}
	return "", false
}

// CleanText 折叠空白、去掉白名单外字符并截断到 MaxTextLength 个字符。
func CleanText(raw string) string {
	if raw == "" || raw == "null" {
		return ""
	}
	s := disallowedRe.ReplaceAllString(raw, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return truncateRunes(s, MaxTextLength)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
