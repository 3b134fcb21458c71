// Package conv converts command line input, such as addresses and
// hex-encoded data, into values.
package conv

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"
)

// ParseAddress parses an address. A "0x" prefix denotes hex, and
// a leading "0" denotes octal. Otherwise, the address is decimal.
// The "`" separator used by debuggers between the upper and lower
// halves of 64-bit addresses is ignored, as is "_".
func ParseAddress(s string) (uint64, error) {
	cleaned := strings.NewReplacer("`", "", "_", "").Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return 0, fmt.Errorf("address is empty")
	}

	addr, err := strconv.ParseUint(cleaned, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse address %q - %w", s, err)
	}

	return addr, nil
}

// HexToBytes decodes hex-encoded data. It accepts plain hex pairs,
// C arrays and strings ("\x31\xc0", {0x31, 0xc0}), and ignores C
// comments, which allows it to parse blobs of data mixed with
// comments.
func HexToBytes(source io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read hex data - %w", err)
	}

	text, err := stripComments(string(raw))
	if err != nil {
		return nil, err
	}

	var decoded []byte
	for _, field := range strings.FieldsFunc(text, isSeparator) {
		for _, part := range strings.Split(field, `\x`) {
			part = strings.TrimPrefix(strings.TrimPrefix(part, "0x"), "0X")
			if part == "" {
				continue
			}

			b, err := hex.DecodeString(part)
			if err != nil {
				return nil, fmt.Errorf("failed to hex-decode %q - %w", field, err)
			}

			decoded = append(decoded, b...)
		}
	}

	return decoded, nil
}

// stripComments replaces C comments with a space.
func stripComments(text string) (string, error) {
	var out strings.Builder

	for len(text) > 0 {
		switch {
		case strings.HasPrefix(text, "//"):
			end := strings.IndexByte(text, '\n')
			if end < 0 {
				return out.String(), nil
			}
			text = text[end:]
		case strings.HasPrefix(text, "/*"):
			end := strings.Index(text[2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("failed to find corresponding '*/' end of comment")
			}
			text = text[2+end+2:]
			out.WriteByte(' ')
		default:
			out.WriteByte(text[0])
			text = text[1:]
		}
	}

	return out.String(), nil
}

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}

	switch r {
	case ',', '"', '\'', '{', '}', ';':
		return true
	}

	return false
}
