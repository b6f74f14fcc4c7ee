package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Body decoding errors.
var (
	ErrTooDeep      = errors.New("json nesting too deep")
	ErrTrailingData = errors.New("trailing data after json value")
)

// Keys dropped from decoded objects.
var forbiddenKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

const (
	redactedIP     = "[redacted-ip]"
	maxErrorLength = 200
)

// StripControl removes control characters except tab, newline and carriage return.
// Invalid UTF-8 is dropped.
func StripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size <= 1 {
			b = b[size:]
			if size == 0 {
				break
			}
			continue
		}
		if r == '\t' || r == '\n' || r == '\r' || !unicode.IsControl(r) {
			out = append(out, b[:size]...)
		}
		b = b[size:]
	}
	return out
}

// DecodeJSON decodes one JSON value into generic Go values. Objects nested
// deeper than maxDepth are rejected and forbidden keys are dropped.
func DecodeJSON(data []byte, maxDepth int) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	v, err := readValue(dec, 0, maxDepth)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrTrailingData
	}
	return v, nil
}

func readValue(dec *json.Decoder, depth, maxDepth int) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	if depth+1 > maxDepth {
		return nil, fmt.Errorf("%w: limit %d", ErrTooDeep, maxDepth)
	}

	switch delim {
	case '{':
		obj := make(map[string]any)
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, _ := keyTok.(string)
			val, err := readValue(dec, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			if _, bad := forbiddenKeys[key]; bad {
				continue
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil

	case '[':
		arr := make([]any, 0)
		for dec.More() {
			val, err := readValue(dec, depth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}

	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

var addrCandidate = regexp.MustCompile(`[0-9A-Fa-f:.%]{2,}`)

// RedactIPs replaces every IPv4 or IPv6 address (with or without a port) in s.
func RedactIPs(s string) string {
	return addrCandidate.ReplaceAllStringFunc(s, func(m string) string {
		for _, candidate := range []string{m, strings.TrimRight(m, ".:")} {
			if candidate == "" {
				continue
			}
			if _, err := netip.ParseAddr(candidate); err == nil {
				return redactedIP + m[len(candidate):]
			}
			if _, err := netip.ParseAddrPort(candidate); err == nil {
				return redactedIP + m[len(candidate):]
			}
		}
		return m
	})
}

// SanitizeError renders err for storage: control characters stripped,
// addresses redacted and length capped.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage applies the SanitizeError rules to a string.
func SanitizeMessage(msg string) string {
	msg = RedactIPs(string(StripControl([]byte(msg))))
	if utf8.RuneCountInString(msg) > maxErrorLength {
		runes := []rune(msg)
		msg = string(runes[:maxErrorLength])
	}
	return msg
}
