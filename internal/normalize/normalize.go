package normalize

import (
	"encoding/base64"
	"html"
	"strings"
	"unicode"
)

// Options controls the decode pipeline.
type Options struct {
	// SkipBase64 turns off the best-effort Base64 step. The step is loose:
	// almost any alphabet-only text of the right length decodes to something
	// with a printable rune in it.
	SkipBase64 bool
}

type Result struct {
	Raw        string
	Normalized string
}

// Changed reports whether decoding altered the input.
func (r Result) Changed() bool {
	return r.Raw != r.Normalized
}

// Decoder runs URL-decode, HTML entity decode and best-effort Base64 decode,
// in that order. Each step only replaces the value when it changes it.
type Decoder struct {
	opts Options
}

func NewDecoder(opts Options) *Decoder {
	return &Decoder{opts: opts}
}

// Apply never fails; on any decode error the step is skipped.
func (d *Decoder) Apply(input string) Result {
	res := Result{Raw: input, Normalized: input}
	if input == "" {
		return res
	}

	decoded := input
	if next, ok := urlDecode(decoded); ok {
		decoded = next
	}

	decoded = html.UnescapeString(decoded)

	skip := d != nil && d.opts.SkipBase64
	if !skip {
		if next, ok := base64Decode(decoded); ok {
			decoded = next
		}
	}

	res.Normalized = decoded
	return res
}

func (d *Decoder) Normalize(input string) string {
	return d.Apply(input).Normalized
}

// Normalize decodes with default options.
func Normalize(input string) string {
	return (*Decoder)(nil).Normalize(input)
}

// urlDecode decodes every valid %XX escape and copies malformed ones
// through unchanged, so one bad escape cannot shield the rest of the value.
func urlDecode(input string) (string, bool) {
	if !strings.Contains(input, "%") {
		return input, false
	}
	var b strings.Builder
	b.Grow(len(input))
	for i := 0; i < len(input); i++ {
		if input[i] == '%' && i+2 < len(input) {
			if hi, ok := unhex(input[i+1]); ok {
				if lo, ok := unhex(input[i+2]); ok {
					b.WriteByte(hi<<4 | lo)
					i += 2
					continue
				}
			}
		}
		b.WriteByte(input[i])
	}
	decoded := strings.ToValidUTF8(b.String(), "\uFFFD")
	return decoded, decoded != input
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

func base64Decode(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasSuffix(trimmed, "=") && len(trimmed)%4 != 0 {
		return input, false
	}

	// characters outside the alphabet are discarded before decoding
	filtered := strings.Map(func(r rune) rune {
		if isBase64Rune(r) {
			return r
		}
		return -1
	}, input)

	raw, err := base64.StdEncoding.DecodeString(filtered)
	if err != nil {
		return input, false
	}

	decoded := strings.ToValidUTF8(string(raw), "")
	if !hasPrintable(decoded) {
		return input, false
	}
	return decoded, decoded != input
}

func isBase64Rune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '+', r == '/', r == '=':
		return true
	default:
		return false
	}
}

func hasPrintable(s string) bool {
	for _, r := range s {
		if unicode.IsPrint(r) {
			return true
		}
	}
	return false
}
