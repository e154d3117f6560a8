package messages

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

var nsStringMarker = []byte("NSString")

// DecodeAttributedBody pulls the plain text out of an attributedBody
// typedstream blob. After the NSString class name come five header bytes
// and then the length: one byte, or 0x81 followed by a little-endian uint16.
// Returns "" when the blob does not have that shape.
func DecodeAttributedBody(blob []byte) string {
	idx := bytes.Index(blob, nsStringMarker)
	if idx < 0 {
		return ""
	}
	rest := blob[idx+len(nsStringMarker):]
	if len(rest) < 6 {
		return ""
	}
	rest = rest[5:]

	var n int
	if rest[0] == 0x81 {
		if len(rest) < 3 {
			return ""
		}
		n = int(binary.LittleEndian.Uint16(rest[1:3]))
		rest = rest[3:]
	} else {
		n = int(rest[0])
		rest = rest[1:]
	}
	if n > len(rest) {
		return ""
	}

	text := rest[:n]
	if !utf8.Valid(text) {
		return ""
	}
	return string(text)
}
