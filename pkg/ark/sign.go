package ark

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

const (
	signMarker = "test"

	// Custom 65-entry alphabet recovered from the upstream web bundle.
	// Index 64 is the padding character for short trailing groups.
	signAlphabet = "A4NjFqYu5wPHsO0XTdDgMa2r1ZQocVte9UJBvk6/7=yRnhISGKblCWi+LpfE8xzm3"
)

// EncodeBody serializes a request payload the way the upstream web
// client does: compact JSON with every non-ASCII rune escaped to
// lowercase \uXXXX (surrogate pairs above the BMP). The same bytes
// must be used for signing and as the wire body.
func EncodeBody(payload any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("encoding body: %w", err)
	}
	raw := bytes.TrimRight(buf.Bytes(), "\n")
	return escapeNonASCII(raw), nil
}

func escapeNonASCII(raw []byte) []byte {
	ascii := true
	for _, b := range raw {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return raw
	}

	var out bytes.Buffer
	out.Grow(len(raw))
	for _, r := range string(raw) {
		if r < 0x80 {
			out.WriteRune(r)
			continue
		}
		if r > 0xFFFF {
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&out, `\u%04x\u%04x`, hi, lo)
			continue
		}
		fmt.Fprintf(&out, `\u%04x`, r)
	}
	return out.Bytes()
}

// Sign computes the x-s header value over a millisecond timestamp, a
// request path and the exact body bytes going on the wire. It is a
// pure function: identical inputs always produce identical output.
func Sign(timestamp, path string, body []byte) string {
	sum := md5.Sum([]byte(timestamp + signMarker + path + string(body)))
	return encodeDigest(hex.EncodeToString(sum[:]))
}

// encodeDigest walks the hex digest three characters at a time and
// maps each group to four alphabet entries via 6-bit slices of the
// character codes. Missing trailing characters force the padding
// index (64) for the affected outputs.
func encodeDigest(digest string) string {
	var out strings.Builder
	out.Grow((len(digest) + 2) / 3 * 4)

	for p := 0; p < len(digest); {
		a := int(digest[p])
		p++

		var c, u int
		cPresent, uPresent := false, false
		if p < len(digest) {
			c = int(digest[p])
			cPresent = true
			p++
		}
		if p < len(digest) {
			u = int(digest[p])
			uPresent = true
			p++
		}

		x := a >> 2
		l := ((a & 3) << 4) | (c >> 4)
		h := ((c & 15) << 2) | (u >> 6)
		v := 63 & u

		switch {
		case !cPresent:
			h, v = 64, 64
		case !uPresent:
			v = 64
		}

		for _, idx := range [4]int{x, l, h, v} {
			if idx >= 0 && idx < len(signAlphabet) {
				out.WriteByte(signAlphabet[idx])
			}
		}
	}

	return out.String()
}
