// Package phone normalizes phone numbers and derives candidate numbers from
// spam marker messages.
package phone

import (
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const (
	// Marker flags a message as carrying the number of a spam sender.
	Marker = "spam: "

	// SuffixWidth is the number of trailing digits replaced during expansion.
	SuffixWidth = 4

	// SuffixCount is the cardinality of the suffix range (10^SuffixWidth).
	SuffixCount = 10000

	// DefaultRegion is the region assumed for numbers without a country code.
	DefaultRegion = "US"
)

var (
	nonDigitRegex = regexp.MustCompile(`\D`)
	markerRegex   = regexp.MustCompile(`(?s)spam: (.*)`)
)

// Clean strips every non-digit and drops a leading US country code.
func Clean(raw string) string {
	digits := nonDigitRegex.ReplaceAllString(raw, "")
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	return digits
}

// National returns the national significant number of a sender handle or
// operator input, parsed with DefaultRegion. Numbers outside country code 1
// keep their country code, and input the parser rejects falls back to Clean.
func National(raw string) string {
	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil || num.GetCountryCode() != 1 {
		return Clean(raw)
	}
	return phonenumbers.GetNationalSignificantNumber(num)
}

// ExtractMarker returns the cleaned digits between the first spam marker in
// text and the next one, line breaks included. The second return is false
// when there is no marker or no digits follow it.
func ExtractMarker(text string) (string, bool) {
	m := markerRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	body, _, _ := strings.Cut(m[1], Marker)
	number := Clean(body)
	if number == "" {
		return "", false
	}
	return number, true
}

// MarkerPrefix returns the known prefix of the number carried by a spam
// marker: the marker digits minus their last SuffixWidth digits. Markers
// that leave no prefix are rejected.
func MarkerPrefix(text string) (string, bool) {
	number, ok := ExtractMarker(text)
	if !ok || len(number) <= SuffixWidth {
		return "", false
	}
	return number[:len(number)-SuffixWidth], true
}

// Suffixes returns every four digit suffix from 0000 to 9999 in order.
func Suffixes() []string {
	out := make([]string, SuffixCount)
	for i := range SuffixCount {
		out[i] = fmt.Sprintf("%0*d", SuffixWidth, i)
	}
	return out
}

// Expand yields prefix followed by each suffix in ascending order.
func Expand(prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := range SuffixCount {
			if !yield(fmt.Sprintf("%s%0*d", prefix, SuffixWidth, i)) {
				return
			}
		}
	}
}

// ExpandAll chains the expansion of every prefix, skipping duplicates.
func ExpandAll(prefixes []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		seen := make(map[string]struct{}, len(prefixes))
		for _, p := range prefixes {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			for n := range Expand(p) {
				if !yield(n) {
					return
				}
			}
		}
	}
}

// Slice adapts a list of raw numbers to the sequence form consumed by the
// send loop.
func Slice(numbers []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, n := range numbers {
			if !yield(n) {
				return
			}
		}
	}
}
