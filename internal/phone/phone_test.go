package phone

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatted", "(555) 123-4567", "5551234567"},
		{"country code", "+1 555 123 4567", "5551234567"},
		{"eleven digits without leading one", "25551234567", "25551234567"},
		{"ten digits starting with one", "1551234567", "1551234567"},
		{"short code", "22395", "22395"},
		{"no digits", "abc", ""},
		{"email handle", "someone@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestExtractMarker(t *testing.T) {
	n, ok := ExtractMarker("reported spam: +1 (555) 123-4567 thanks")
	require.True(t, ok)
	assert.Equal(t, "5551234567", n)

	_, ok = ExtractMarker("no marker here 5551234567")
	assert.False(t, ok)

	_, ok = ExtractMarker("spam: none")
	assert.False(t, ok)

	_, ok = ExtractMarker("spam:5551234567")
	assert.False(t, ok, "marker requires the trailing space")
}

func TestExtractMarker_Multiline(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"number on next line", "spam:  \n555-123-4567", "5551234567"},
		{"number split across lines", "spam: 555 123\n4567", "5551234567"},
		{"trailing text lines", "spam: 555-123-4567\nsent from my phone", "5551234567"},
		{"stops at next marker", "spam: 555-123-4567 spam: 666-000-1111", "5551234567"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractMarker(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ExtractMarker("spam: \n\nnothing here")
	assert.False(t, ok)
}

func TestMarkerPrefix(t *testing.T) {
	p, ok := MarkerPrefix("spam: 555-123-4567")
	require.True(t, ok)
	assert.Equal(t, "555123", p)

	p, ok = MarkerPrefix("spam: 555123XXXX")
	require.True(t, ok)
	assert.Equal(t, "55", p)

	_, ok = MarkerPrefix("spam: 1234")
	assert.False(t, ok, "four digits leave no prefix")

	p, ok = MarkerPrefix("spam: 555 123\n4567")
	require.True(t, ok)
	assert.Equal(t, "555123", p, "digits after a line break belong to the number")

	p, ok = MarkerPrefix("spam: \n+1 (555) 123-4567")
	require.True(t, ok)
	assert.Equal(t, "555123", p)
}

func TestNational(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"e164 handle", "+15551234567", "5551234567"},
		{"formatted with country code", "+1 (555) 123-4567", "5551234567"},
		{"national format", "(555) 123-4567", "5551234567"},
		{"foreign number keeps country code", "+44 7911 123456", "447911123456"},
		{"email handle", "someone@example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, National(tt.in))
		})
	}
}

func TestSuffixes(t *testing.T) {
	s := Suffixes()
	require.Len(t, s, SuffixCount)
	assert.Equal(t, "0000", s[0])
	assert.Equal(t, "0042", s[42])
	assert.Equal(t, "9999", s[len(s)-1])
	assert.True(t, slices.IsSorted(s))
}

func TestExpand(t *testing.T) {
	got := slices.Collect(Expand("555123"))
	require.Len(t, got, SuffixCount)
	assert.Equal(t, "5551230000", got[0])
	assert.Equal(t, "5551239999", got[SuffixCount-1])

	suffixes := Suffixes()
	for i, n := range got {
		if n != "555123"+suffixes[i] {
			t.Fatalf("index %d: got %s", i, n)
		}
	}
}

func TestExpand_StopsEarly(t *testing.T) {
	var got []string
	for n := range Expand("1") {
		got = append(got, n)
		if len(got) == 3 {
			break
		}
	}
	if diff := cmp.Diff([]string{"10000", "10001", "10002"}, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}
}

func TestExpandAll_DeduplicatesPrefixes(t *testing.T) {
	n := 0
	for range ExpandAll([]string{"555", "555", "666"}) {
		n++
	}
	assert.Equal(t, 2*SuffixCount, n)
}
