// Package h1 implements the HTTP/1.1 client wire format: an incremental
// push parser for responses and an encoder for request heads and chunked
// bodies. It moves bytes only; all I/O and scheduling live above it.
package h1

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors returned by [Parser.Feed] and [Parser.CloseEOF].
var (
	// ErrMalformed reports bytes that cannot be parsed as an HTTP/1.1
	// response. All parse failures wrap it.
	ErrMalformed = errors.New("malformed http response")
	// ErrUnexpectedEOF reports a transport that closed cleanly in the
	// middle of a message.
	ErrUnexpectedEOF = errors.New("unexpected eof")
	// ErrHeadTooLarge reports a response head exceeding the configured
	// limit.
	ErrHeadTooLarge = errors.New("response head too large")
)

// Field is one header field with its original casing.
type Field struct {
	Name  string
	Value string
}

// Head is a parsed response head: status line plus header fields in
// arrival order.
type Head struct {
	Status int
	Reason string
	Minor  int // 0 for HTTP/1.0, 1 for HTTP/1.1
	Fields []Field
	// Raw holds the verbatim head bytes, including the terminating blank
	// line, when capture is enabled on the parser.
	Raw []byte
}

// Header returns the first value of the named field, case-insensitively.
func (h *Head) Header(name string) (string, bool) {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// EventKind discriminates parser events.
type EventKind int

const (
	// KindInformational is a complete interim (1xx) head; the final
	// response is still to come.
	KindInformational EventKind = iota + 1
	// KindHead is the final response head; body events follow.
	KindHead
	// KindData carries a slice of body bytes. The slice borrows from the
	// input passed to Feed and is only valid until the next Feed call.
	KindData
	// KindDone marks the end of the message body.
	KindDone
)

// Event is one parsing result surfaced by [Parser.Feed].
type Event struct {
	Kind EventKind
	Head *Head
	Data []byte
}

type state int

const (
	stStatusLine state = iota
	stHeaderLine
	stBodyIdentity
	stChunkSize
	stChunkData
	stChunkDataCRLF
	stTrailerLine
	stBodyToEOF
	stDone
)

// Parser is an incremental HTTP/1.1 response parser. Feed it raw transport
// bytes as they arrive; it hands back at most one event per call together
// with the number of input bytes it consumed. Reset it between messages on
// a keep-alive connection.
type Parser struct {
	// CaptureRaw enables verbatim head capture on produced heads.
	CaptureRaw bool
	// MaxHeadBytes bounds the total size of a response head.
	MaxHeadBytes int

	state     state
	line      []byte
	head      *Head
	raw       []byte
	headBytes int

	skipBody  bool
	chunked   bool
	remaining int64

	queue []Event
}

// NewParser creates a parser ready for the first response.
func NewParser() *Parser {
	return &Parser{MaxHeadBytes: 64 * 1024}
}

// Reset prepares the parser for the next message on the same connection.
// Configuration fields are kept.
func (p *Parser) Reset() {
	p.state = stStatusLine
	p.line = p.line[:0]
	p.head = nil
	p.raw = nil
	p.headBytes = 0
	p.skipBody = false
	p.chunked = false
	p.remaining = 0
	p.queue = p.queue[:0]
}

// SkipBody tells the parser the message cannot have a body regardless of
// its framing headers, as with a response to a HEAD request.
func (p *Parser) SkipBody(on bool) { p.skipBody = on }

// Done reports whether the current message has been fully parsed.
func (p *Parser) Done() bool { return p.state == stDone && len(p.queue) == 0 }

// Feed consumes bytes from b and returns how many were consumed plus at
// most one event. A (0, nil, nil) return with a non-empty input never
// happens: the parser always either consumes bytes, produces an event, or
// both. Call Feed again with the unconsumed remainder until it is empty
// and no event is returned.
func (p *Parser) Feed(b []byte) (int, *Event, error) {
	if len(p.queue) > 0 {
		ev := p.queue[0]
		p.queue = p.queue[1:]
		return 0, &ev, nil
	}

	n := 0
	for n < len(b) {
		switch p.state {
		case stStatusLine, stHeaderLine, stTrailerLine, stChunkSize, stChunkDataCRLF:
			used, line, err := p.takeLine(b[n:])
			n += used
			if err != nil {
				return n, nil, err
			}
			if line == nil {
				return n, nil, nil // need more input
			}
			ev, err := p.processLine(line)
			if err != nil {
				return n, nil, err
			}
			if ev != nil {
				return n, ev, nil
			}

		case stBodyIdentity:
			m := int64(len(b) - n)
			if m > p.remaining {
				m = p.remaining
			}
			data := b[n : n+int(m)]
			n += int(m)
			p.remaining -= m
			if p.remaining == 0 {
				p.state = stDone
				p.queue = append(p.queue, Event{Kind: KindDone})
			}
			return n, &Event{Kind: KindData, Data: data}, nil

		case stChunkData:
			m := int64(len(b) - n)
			if m > p.remaining {
				m = p.remaining
			}
			data := b[n : n+int(m)]
			n += int(m)
			p.remaining -= m
			if p.remaining == 0 {
				p.state = stChunkDataCRLF
			}
			return n, &Event{Kind: KindData, Data: data}, nil

		case stBodyToEOF:
			data := b[n:]
			return len(b), &Event{Kind: KindData, Data: data}, nil

		case stDone:
			// Leftover input belongs to the next message; the caller
			// keeps it buffered until after Reset.
			return n, nil, nil
		}
	}
	return n, nil, nil
}

// CloseEOF tells the parser the peer closed its write side. For a
// read-to-EOF body this completes the message; mid-message it is an
// error; between messages it is a clean close.
func (p *Parser) CloseEOF() (*Event, error) {
	switch {
	case p.state == stBodyToEOF:
		p.state = stDone
		return &Event{Kind: KindDone}, nil
	case p.state == stDone:
		return nil, nil
	case p.state == stStatusLine && len(p.line) == 0 && p.head == nil:
		return nil, nil
	default:
		return nil, ErrUnexpectedEOF
	}
}

// takeLine accumulates bytes until a LF, returning the completed line
// without its CRLF, or nil if more input is needed.
func (p *Parser) takeLine(b []byte) (int, []byte, error) {
	i := bytes.IndexByte(b, '\n')
	var used int
	if i < 0 {
		used = len(b)
		p.line = append(p.line, b...)
	} else {
		used = i + 1
		p.line = append(p.line, b[:used]...)
	}
	if p.inHead() || p.state == stTrailerLine {
		p.headBytes += used
		if p.headBytes > p.MaxHeadBytes {
			return used, nil, ErrHeadTooLarge
		}
		if p.CaptureRaw && p.inHead() {
			p.raw = append(p.raw, b[:used]...)
		}
	}
	if i < 0 {
		return used, nil, nil
	}
	line := p.line
	p.line = nil
	line = line[:len(line)-1] // strip LF
	line = bytes.TrimSuffix(line, []byte{'\r'})
	return used, line, nil
}

func (p *Parser) inHead() bool {
	return p.state == stStatusLine || p.state == stHeaderLine
}

func (p *Parser) processLine(line []byte) (*Event, error) {
	switch p.state {
	case stStatusLine:
		if err := p.parseStatusLine(line); err != nil {
			return nil, err
		}
		p.state = stHeaderLine
		return nil, nil

	case stHeaderLine:
		if len(line) == 0 {
			return p.endHead()
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, fmt.Errorf("%w: obsolete header line folding", ErrMalformed)
		}
		name, value, ok := bytes.Cut(line, []byte{':'})
		if !ok || len(name) == 0 || bytes.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		p.head.Fields = append(p.head.Fields, Field{
			Name:  string(name),
			Value: string(bytes.Trim(value, " \t")),
		})
		return nil, nil

	case stTrailerLine:
		// Trailer fields are consumed and discarded.
		if len(line) == 0 {
			p.state = stDone
			return &Event{Kind: KindDone}, nil
		}
		return nil, nil

	case stChunkSize:
		size, err := parseChunkSize(line)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			p.state = stTrailerLine
			return nil, nil
		}
		p.remaining = size
		p.state = stChunkData
		return nil, nil

	case stChunkDataCRLF:
		if len(line) != 0 {
			return nil, fmt.Errorf("%w: missing CRLF after chunk data", ErrMalformed)
		}
		p.state = stChunkSize
		return nil, nil
	}
	return nil, nil
}

func (p *Parser) parseStatusLine(line []byte) error {
	s := string(line)
	proto, rest, ok := strings.Cut(s, " ")
	if !ok {
		return fmt.Errorf("%w: bad status line %q", ErrMalformed, s)
	}
	var minor int
	switch proto {
	case "HTTP/1.1":
		minor = 1
	case "HTTP/1.0":
		minor = 0
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrMalformed, proto)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	if len(codeStr) != 3 {
		return fmt.Errorf("%w: bad status code %q", ErrMalformed, codeStr)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 100 || code > 599 {
		return fmt.Errorf("%w: bad status code %q", ErrMalformed, codeStr)
	}
	p.head = &Head{Status: code, Reason: reason, Minor: minor}
	return nil
}

// endHead finishes the current head: it decides the body framing and
// queues the head event (plus a done event for bodiless messages).
func (p *Parser) endHead() (*Event, error) {
	head := p.head
	if p.CaptureRaw {
		head.Raw = p.raw
		p.raw = nil
	}

	// Interim responses: surface the head and start over on the final
	// (or next interim) status line.
	if head.Status >= 100 && head.Status < 200 && head.Status != 101 {
		p.head = nil
		p.state = stStatusLine
		p.headBytes = 0
		return &Event{Kind: KindInformational, Head: head}, nil
	}

	bodiless := p.skipBody || head.Status == 204 || head.Status == 304
	te, hasTE := head.Header("Transfer-Encoding")
	cl, hasCL := head.Header("Content-Length")

	switch {
	case bodiless:
		p.state = stDone
		p.queue = append(p.queue, Event{Kind: KindDone})

	case hasTE:
		if !strings.EqualFold(lastToken(te), "chunked") {
			return nil, fmt.Errorf("%w: unsupported transfer encoding %q", ErrMalformed, te)
		}
		p.chunked = true
		p.state = stChunkSize

	case hasCL:
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			p.state = stDone
			p.queue = append(p.queue, Event{Kind: KindDone})
		} else {
			p.remaining = n
			p.state = stBodyIdentity
		}

	default:
		p.state = stBodyToEOF
	}

	return &Event{Kind: KindHead, Head: head}, nil
}

func lastToken(list string) string {
	toks := strings.Split(list, ",")
	return strings.Trim(toks[len(toks)-1], " \t")
}

func parseContentLength(v string) (int64, error) {
	v = strings.Trim(v, " \t")
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad content-length %q", ErrMalformed, v)
	}
	return n, nil
}

func parseChunkSize(line []byte) (int64, error) {
	// Chunk extensions are tolerated and ignored.
	hex, _, _ := bytes.Cut(line, []byte{';'})
	hex = bytes.Trim(hex, " \t")
	n, err := strconv.ParseInt(string(hex), 16, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad chunk size %q", ErrMalformed, line)
	}
	return n, nil
}
