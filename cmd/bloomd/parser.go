// parser.go decodes client requests.
//
// A request is either a RESP array of bulk strings or a single inline line
// of space separated words:
//
//	*3\r\n$6\r\nBF.ADD\r\n$3\r\nkey\r\n$4\r\nitem\r\n
//	BF.ADD key item\r\n
//
// Both decode to the same [][]byte, command name first. Filter items are
// byte sequences, so arguments are handed to the filters as they came off
// the wire and only keys and command names are turned into strings. No
// argument aliases the read buffer.
//
// Every length read from the wire is checked before anything is allocated:
// MaxArrayLen for "*<n>", MaxBulkLength for "$<n>" and MaxLineSize for a
// header or inline line that never ends.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	// MaxBulkLength is the largest accepted bulk string, 512MB.
	MaxBulkLength = 512 << 20

	// MaxArrayLen is the largest accepted request array.
	MaxArrayLen = 1 << 20

	// MaxLineSize bounds header and inline lines, terminator excluded.
	MaxLineSize = 64 << 10

	readBufferSize = 4096
)

var (
	ErrInvalidSyntax = errors.New("ERR protocol error: invalid syntax")
	ErrLineTooLong   = errors.New("ERR protocol error: line too long")
	ErrBulkTooLarge  = errors.New("ERR protocol error: bulk string exceeds 512MB limit")
	ErrArrayTooLong  = errors.New("ERR protocol error: array exceeds 1M elements limit")
)

// isProtocolError reports whether err was produced by the parser itself, as
// opposed to the underlying connection.
func isProtocolError(err error) bool {
	return errors.Is(err, ErrInvalidSyntax) ||
		errors.Is(err, ErrLineTooLong) ||
		errors.Is(err, ErrBulkTooLarge) ||
		errors.Is(err, ErrArrayTooLong)
}

// Parser decodes requests from one client stream.
type Parser struct {
	r *bufio.Reader

	// long collects a line that does not fit in the read buffer. It is
	// reused across requests.
	long []byte
}

func NewParser(r io.Reader) *Parser {
	return &Parser{r: bufio.NewReaderSize(r, readBufferSize)}
}

// Parse decodes the next request. An empty or null array decodes to an
// empty request and no error.
func (p *Parser) Parse() ([][]byte, error) {
	line, err := p.line()
	if err != nil {
		return nil, err
	}

	if len(line) == 0 {
		return nil, ErrInvalidSyntax
	}
	if line[0] != '*' {
		return splitInline(line)
	}

	n, err := parseLength(line[1:])
	switch {
	case err != nil:
		return nil, err
	case n <= 0:
		return [][]byte{}, nil
	case n > MaxArrayLen:
		return nil, ErrArrayTooLong
	}

	args := make([][]byte, n)
	for i := range args {
		if args[i], err = p.bulk(); err != nil {
			return nil, err
		}
	}

	return args, nil
}

// Buffered returns the number of unread bytes already received. A non-zero
// value means the client pipelined more requests.
func (p *Parser) Buffered() int {
	return p.r.Buffered()
}

// line returns the next line without its terminator. The result is only
// valid until the next read.
func (p *Parser) line() ([]byte, error) {
	b, err := p.r.ReadSlice('\n')
	if err == nil {
		return trimEOL(b), nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}

	p.long = append(p.long[:0], b...)
	for {
		b, err = p.r.ReadSlice('\n')
		if len(p.long)+len(b) > MaxLineSize+2 {
			return nil, ErrLineTooLong
		}
		p.long = append(p.long, b...)

		switch {
		case err == nil:
			return trimEOL(p.long), nil
		case !errors.Is(err, bufio.ErrBufferFull):
			return nil, err
		}
	}
}

// bulk reads one "$<n>\r\n<n bytes>\r\n" argument into a slice of its own.
// A null bulk string decodes to an empty argument.
func (p *Parser) bulk() ([]byte, error) {
	line, err := p.line()
	if err != nil {
		return nil, err
	}

	if len(line) == 0 || line[0] != '$' {
		return nil, ErrInvalidSyntax
	}

	n, err := parseLength(line[1:])
	switch {
	case err != nil:
		return nil, err
	case n < 0:
		return []byte{}, nil
	case n > MaxBulkLength:
		return nil, ErrBulkTooLarge
	}

	buf := make([]byte, n+2)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}

	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, ErrInvalidSyntax
	}

	return buf[:n:n], nil
}

// splitInline copies line once and splits the copy on whitespace.
func splitInline(line []byte) ([][]byte, error) {
	args := bytes.Fields(bytes.Clone(line))
	if len(args) == 0 {
		return nil, ErrInvalidSyntax
	}

	return args, nil
}

// parseLength decodes the count after a '*' or '$' marker. The only
// negative count RESP allows is -1, the null marker.
func parseLength(b []byte) (int, error) {
	if len(b) == 2 && b[0] == '-' && b[1] == '1' {
		return -1, nil
	}

	// Ten digits already exceed every limit and still fit in an int.
	if len(b) == 0 || len(b) > 10 {
		return 0, ErrInvalidSyntax
	}

	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, ErrInvalidSyntax
		}
		n = n*10 + int(c-'0')
	}

	return n, nil
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
