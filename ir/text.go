package ir

import (
	"bytes"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// DecodeTextString interprets a PDF text string: UTF-16BE when it
// carries the BOM, PDFDocEncoding (treated as Latin-1) otherwise.
func DecodeTextString(raw []byte) string {
	if len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF {
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(raw)
		if err == nil {
			return string(out)
		}
	}
	var buf bytes.Buffer
	for _, b := range raw {
		buf.WriteRune(rune(b))
	}
	return buf.String()
}

// EncodeTextString produces string bytes for text: plain Latin-1 when
// possible, UTF-16BE with BOM otherwise.
func EncodeTextString(text string) []byte {
	ascii := true
	for _, r := range text {
		if r > 0xFF {
			ascii = false
			break
		}
	}
	if ascii && utf8.ValidString(text) {
		out := make([]byte, 0, len(text))
		for _, r := range text {
			out = append(out, byte(r))
		}
		return out
	}
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.Bytes([]byte(text))
	if err != nil {
		return []byte(text)
	}
	return out
}

// FormatDate renders t in the D:YYYYMMDDHHmmSSOHH'mm' form.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	oh := offset / 3600
	om := offset % 3600 / 60
	if oh == 0 && om == 0 {
		return t.Format("D:20060102150405Z")
	}
	return fmt.Sprintf("%s%s%02d'%02d'", t.Format("D:20060102150405"), sign, oh, om)
}

// ParseDate reads the common forms of a PDF date string. Zero time is
// returned for anything unparseable.
func ParseDate(s string) time.Time {
	if len(s) < 2 || s[:2] != "D:" {
		return time.Time{}
	}
	body := s[2:]
	digits := 0
	for digits < len(body) && body[digits] >= '0' && body[digits] <= '9' {
		digits++
	}
	layouts := map[int]string{
		4:  "2006",
		6:  "200601",
		8:  "20060102",
		10: "2006010215",
		12: "200601021504",
		14: "20060102150405",
	}
	layout, ok := layouts[digits]
	if !ok {
		return time.Time{}
	}
	base, err := time.Parse(layout, body[:digits])
	if err != nil {
		return time.Time{}
	}
	rest := body[digits:]
	if len(rest) == 0 || rest[0] == 'Z' {
		return base.UTC()
	}
	if (rest[0] == '+' || rest[0] == '-') && len(rest) >= 3 {
		oh := int(rest[1]-'0')*10 + int(rest[2]-'0')
		om := 0
		if len(rest) >= 6 && rest[3] == '\'' {
			om = int(rest[4]-'0')*10 + int(rest[5]-'0')
		}
		offset := oh*3600 + om*60
		if rest[0] == '-' {
			offset = -offset
		}
		return base.Add(-time.Duration(offset) * time.Second).UTC()
	}
	return base.UTC()
}
