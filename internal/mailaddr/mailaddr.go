// Package mailaddr normalizes and validates free-form recipient lists before
// they reach the SMTP layer. Rejecting malformed addresses up front avoids
// 501 protocol errors mid-send.
package mailaddr

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Full-width punctuation users paste from CJK input methods, mapped to the
// ASCII separators the address grammar expects.
var fullwidth = strings.NewReplacer(
	"，", ",", // ，
	"；", ";", // ；
	"。", ".", // 。
	"＠", "@", // ＠
	"（", "(", // （
	"）", ")", // ）
	"【", "[", // 【
	"】", "]", // 】
	"：", ":", // ：
	"、", ",", // 、
	"　", " ", // ideographic space
)

var (
	aroundAtDot = regexp.MustCompile(`\s*([@.])\s*`)
	separators  = regexp.MustCompile(`[;\s]+`)
	addressRE   = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
)

// Normalize translates full-width punctuation to ASCII, strips whitespace
// around '@' and '.', collapses separator runs into single commas and trims
// stray separators from both ends.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = fullwidth.Replace(s)
	s = aroundAtDot.ReplaceAllString(s, "$1")
	s = separators.ReplaceAllString(s, ",")
	return strings.Trim(s, " ,;")
}

// Parse extracts addresses from free-form recipient text. If any extracted
// address fails validation the call fails atomically, naming every invalid
// address; a partial list is never returned. The result is deduplicated
// case-insensitively, keeping first-seen order and casing. Empty input yields
// an empty list.
func Parse(s string) ([]string, error) {
	s = Normalize(s)
	if s == "" {
		return nil, nil
	}

	var addrs, bad []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		addr := extract(tok)
		if addr == "" {
			continue
		}
		if addressRE.MatchString(addr) {
			addrs = append(addrs, addr)
		} else {
			bad = append(bad, addr)
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("invalid email address(es): %s", strings.Join(bad, ", "))
	}

	seen := make(map[string]struct{}, len(addrs))
	uniq := make([]string, 0, len(addrs))
	for _, a := range addrs {
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		uniq = append(uniq, a)
	}
	return uniq, nil
}

// extract pulls the bare address out of a token that may be a plain address,
// an RFC 5322 "Name" <addr> form, or a leftover quoted display-name fragment
// (which separator collapsing can split off; those are skipped, not errors).
func extract(tok string) string {
	if a, err := mail.ParseAddress(tok); err == nil {
		return strings.TrimSpace(a.Address)
	}
	if strings.HasPrefix(tok, `"`) && strings.HasSuffix(tok, `"`) {
		return ""
	}
	if i := strings.IndexByte(tok, '<'); i >= 0 {
		if j := strings.IndexByte(tok[i:], '>'); j > 0 {
			return strings.TrimSpace(tok[i+1 : i+j])
		}
	}
	return strings.Trim(tok, `"' `)
}
