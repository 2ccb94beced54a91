// Package scanner tokenizes PDF syntax from a ReaderAt, buffering the
// input in fixed-size windows so large files are not read past what the
// parser actually touches.
package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"pdfbatch/recovery"
)

type TokenType int

const (
	TokenDictOpen    TokenType = iota // <<
	TokenDictClose                    // >>
	TokenArrayOpen                    // [
	TokenArrayClose                   // ]
	TokenName                         // /Name
	TokenString                       // literal or hex string
	TokenNumber                       // integer or real
	TokenBool                         // true / false
	TokenNull                         // null
	TokenRef                          // N G R
	TokenStream                       // stream payload
	TokenInlineImage                  // ID ... EI payload
	TokenKeyword                      // obj, endobj, operators, ...
)

// Token carries the value in the field matching its type: Str for names
// and keywords, Bytes for strings and stream payloads, Int/Flt/IsInt for
// numbers, Num/Gen for references.
type Token struct {
	Type  TokenType
	Pos   int64
	Str   string
	Bytes []byte
	Int   int64
	Flt   float64
	IsInt bool
	Bool  bool
	Num   int
	Gen   int
}

// Float returns the numeric value of a number token regardless of form.
func (t Token) Float() float64 {
	if t.IsInt {
		return float64(t.Int)
	}
	return t.Flt
}

type Config struct {
	MaxStringLength int64
	MaxStreamLength int64
	MaxStreamScan   int64
	MaxInlineImage  int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

// Scanner walks the input token by token. SeekTo repositions it at an
// absolute byte offset; SetStreamLengthHint primes the next stream scan
// with the declared /Length so binary payloads containing the word
// "endstream" do not truncate.
type Scanner struct {
	reader    io.ReaderAt
	data      []byte
	pos       int64
	cfg       Config
	chunkSize int64
	eof       bool
	streamLen int64
	loc       recovery.Location
}

func New(r io.ReaderAt, cfg Config) *Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &Scanner{reader: r, cfg: cfg, chunkSize: chunk, streamLen: -1}
}

// NewBytes wraps an in-memory buffer. Used for content streams.
func NewBytes(data []byte, cfg Config) *Scanner {
	s := New(bytes.NewReader(data), cfg)
	s.data = data
	s.eof = true
	return s
}

func (s *Scanner) Position() int64 { return s.pos }

func (s *Scanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("scanner: seek before start")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("scanner: seek past end of input")
	}
	s.pos = offset
	s.streamLen = -1
	return nil
}

func (s *Scanner) SetStreamLengthHint(n int64)       { s.streamLen = n }
func (s *Scanner) SetLocation(loc recovery.Location) { s.loc = loc }

// Next returns the next token or io.EOF at end of input.
func (s *Scanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return Token{Type: TokenDictOpen, Pos: start}, nil
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return Token{Type: TokenDictClose, Pos: start}, nil
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return Token{Type: TokenArrayOpen, Pos: start}, nil
	case ']':
		s.pos++
		return Token{Type: TokenArrayClose, Pos: start}, nil
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	case '{', '}':
		s.pos++
		return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
	}
	if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
		return s.scanNumberOrRef()
	}
	return s.scanKeyword()
}

func (s *Scanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				if s.pos >= int64(len(s.data)) {
					return io.EOF
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

func (s *Scanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		buf := make([]byte, s.chunkSize)
		read, err := s.reader.ReadAt(buf, int64(len(s.data)))
		if read > 0 {
			s.data = append(s.data, buf[:read]...)
		}
		if errors.Is(err, io.EOF) || read == 0 {
			s.eof = true
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Scanner) peek(n int64) byte {
	if err := s.ensure(s.pos + n); err != nil {
		return 0
	}
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

// avail reports whether offset is within buffered-or-loadable input.
func (s *Scanner) avail(off int64) bool {
	if err := s.ensure(off); err != nil {
		return false
	}
	return off < int64(len(s.data))
}

func (s *Scanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for s.avail(s.pos) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.avail(s.pos+2) {
			out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
			s.pos += 3
			continue
		}
		out.WriteByte(c)
		s.pos++
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *Scanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for {
		if !s.avail(s.pos) {
			if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
				return Token{}, err
			}
			break
		}
		c := s.data[s.pos]
		switch {
		case c == '\\':
			s.pos++
			if !s.avail(s.pos) {
				continue
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				s.pos++
				if s.avail(s.pos) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.avail(s.pos); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
		case c == '(':
			depth++
			buf.WriteByte(c)
			s.pos++
		case c == ')':
			depth--
			s.pos++
			if depth == 0 {
				return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
			}
			buf.WriteByte(c)
		default:
			buf.WriteByte(c)
			s.pos++
		}
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("scanner: literal string exceeds limit")
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

func (s *Scanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var nibbles []byte
	closed := false
	for s.avail(s.pos) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if !isWhitespace(c) {
			nibbles = append(nibbles, c)
		}
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(len(nibbles))/2 > s.cfg.MaxStringLength {
			return Token{}, errors.New("scanner: hex string exceeds limit")
		}
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, fromHex(nibbles[i])<<4|fromHex(nibbles[i+1]))
	}
	return Token{Type: TokenString, Bytes: out, Pos: start}, nil
}

func (s *Scanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberText()
	if first == "" {
		s.pos++
		return Token{}, errors.New("scanner: malformed number")
	}
	// "N G R" lookahead: only a pair of non-negative integers followed by
	// a bare R forms a reference.
	if isPlainInt(first) {
		save := s.pos
		if s.skipWSAndComments() == nil {
			second := s.scanNumberText()
			if isPlainInt(second) {
				if s.skipWSAndComments() == nil && s.avail(s.pos) && s.data[s.pos] == 'R' &&
					(!s.avail(s.pos+1) || isDelimiter(s.data[s.pos+1])) {
					s.pos++
					num, _ := strconv.Atoi(first)
					gen, _ := strconv.Atoi(second)
					return Token{Type: TokenRef, Num: num, Gen: gen, Pos: start}, nil
				}
			}
		}
		s.pos = save
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(normalizeReal(first), 64)
	if err != nil {
		return Token{}, errors.New("scanner: malformed number " + strconv.Quote(first))
	}
	return Token{Type: TokenNumber, Flt: f, Pos: start}, nil
}

func (s *Scanner) scanNumberText() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for s.avail(s.pos) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			buf.WriteByte(c)
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func isPlainInt(str string) bool {
	if str == "" {
		return false
	}
	for _, c := range str {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// normalizeReal patches reals strconv rejects: ".5", "5.", "-.5".
func normalizeReal(str string) string {
	if str == "" {
		return str
	}
	if str[0] == '.' {
		return "0" + str
	}
	if (str[0] == '-' || str[0] == '+') && len(str) > 1 && str[1] == '.' {
		return string(str[0]) + "0" + str[1:]
	}
	if str[len(str)-1] == '.' {
		return str + "0"
	}
	return str
}

func (s *Scanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for s.avail(s.pos) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	if buf.Len() == 0 {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBool, Bool: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	case "ID":
		return s.scanInlineImage(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

// scanStream consumes the payload after a stream keyword. With a length
// hint it takes exactly that many bytes; otherwise it scans for the next
// well-delimited endstream marker and trims the EOL before it.
func (s *Scanner) scanStream(start int64) (Token, error) {
	hint := s.streamLen
	s.streamLen = -1
	if !s.avail(s.pos) {
		return Token{}, errors.New("scanner: stream keyword at end of input")
	}
	switch s.data[s.pos] {
	case '\r':
		s.pos++
		if s.avail(s.pos) && s.data[s.pos] == '\n' {
			s.pos++
		}
	case '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream keyword not followed by EOL"), "stream"); err != nil {
			return Token{}, err
		}
	}
	dataStart := s.pos

	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, errors.New("scanner: stream exceeds length limit")
		}
		end := dataStart + hint
		if !s.avail(end-1) && hint > 0 {
			if err := s.recover(errors.New("input ends before declared stream length"), "stream"); err != nil {
				return Token{}, err
			}
			end = int64(len(s.data))
		}
		payload := append([]byte(nil), s.data[dataStart:end]...)
		s.pos = end
		// The declared length can be off by an EOL or plain wrong; verify
		// an endstream follows, falling back to a forward search.
		s.skipEOL()
		if !s.hasKeywordAt(s.pos, "endstream") {
			idx := bytes.Index(s.data[dataStart:], []byte("endstream"))
			if idx < 0 {
				if err := s.recover(errors.New("endstream not found after declared length"), "stream"); err != nil {
					return Token{}, err
				}
				s.pos = int64(len(s.data))
				return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
			}
			end = dataStart + int64(idx)
			payload = append([]byte(nil), s.data[dataStart:trimEOLBefore(s.data, end, dataStart)]...)
			s.pos = end
		}
		s.pos += int64(len("endstream"))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}

	needle := []byte("endstream")
	for i := dataStart; ; i++ {
		if !s.avail(i + int64(len(needle)) - 1) {
			if err := s.recover(errors.New("unterminated stream"), "stream"); err != nil {
				return Token{}, err
			}
			payload := append([]byte(nil), s.data[dataStart:]...)
			s.pos = int64(len(s.data))
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			return Token{}, errors.New("scanner: endstream not found within scan limit")
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(needle))], needle) {
			continue
		}
		prevOK := i == dataStart || isWhitespace(s.data[i-1])
		next := i + int64(len(needle))
		followOK := !s.avail(next) || isDelimiter(s.data[next])
		if prevOK && followOK {
			end := trimEOLBefore(s.data, i, dataStart)
			payload := append([]byte(nil), s.data[dataStart:end]...)
			if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
				return Token{}, errors.New("scanner: stream exceeds length limit")
			}
			s.pos = next
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
	}
}

func (s *Scanner) skipEOL() {
	if s.avail(s.pos) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.avail(s.pos) && s.data[s.pos] == '\n' {
		s.pos++
	}
}

func (s *Scanner) hasKeywordAt(off int64, kw string) bool {
	if !s.avail(off + int64(len(kw)) - 1) {
		return false
	}
	return string(s.data[off:off+int64(len(kw))]) == kw
}

func trimEOLBefore(data []byte, end, floor int64) int64 {
	if end > floor && data[end-1] == '\n' {
		end--
	}
	if end > floor && data[end-1] == '\r' {
		end--
	}
	return end
}

// scanInlineImage consumes bytes after ID until a delimited EI marker.
func (s *Scanner) scanInlineImage(start int64) (Token, error) {
	if !s.avail(s.pos) || !isWhitespace(s.data[s.pos]) {
		if err := s.recover(errors.New("inline image missing whitespace after ID"), "inline-image"); err != nil {
			return Token{}, err
		}
	} else {
		s.pos++
	}
	dataStart := s.pos
	for {
		if !s.avail(s.pos + 1) {
			return Token{}, errors.New("scanner: unterminated inline image")
		}
		if s.cfg.MaxInlineImage > 0 && s.pos-dataStart > s.cfg.MaxInlineImage {
			return Token{}, errors.New("scanner: inline image exceeds limit")
		}
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' {
			prevOK := s.pos > dataStart && isWhitespace(s.data[s.pos-1])
			followOK := !s.avail(s.pos+2) || isDelimiter(s.data[s.pos+2])
			if prevOK && followOK {
				end := s.pos
				if end > dataStart && isWhitespace(s.data[end-1]) {
					end--
				}
				payload := append([]byte(nil), s.data[dataStart:end]...)
				s.pos += 2
				return Token{Type: TokenInlineImage, Bytes: payload, Pos: start}, nil
			}
		}
		s.pos++
	}
}

func (s *Scanner) recover(err error, component string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	loc := s.loc
	loc.ByteOffset = s.pos
	if loc.Component == "" {
		loc.Component = "scanner:" + component
	} else {
		loc.Component += "->scanner:" + component
	}
	switch s.cfg.Recovery.OnError(err, loc) {
	case recovery.ActionSkip, recovery.ActionFix:
		return nil
	default:
		return err
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return isWhitespace(c)
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	}
	return c
}
