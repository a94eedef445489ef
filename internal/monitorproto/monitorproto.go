// Package monitorproto implements the admin/monitoring binary wire
// protocol: request parsing, response marshalling, and payload validation
// for the mutating CONFIG targets.
package monitorproto

import (
	"encoding/binary"
	"errors"

	"github.com/go-playground/validator/v10"
)

// Version is the only monitor protocol version accepted on the wire.
const Version byte = 0x01

// Method codes.
const (
	MethodGet    byte = 0x00
	MethodConfig byte = 0x01
)

// GET targets.
const (
	TargetHistoric    byte = 0x00
	TargetConcurrent  byte = 0x01
	TargetTransferred byte = 0x02
	TargetProxyUsers  byte = 0x03
	TargetAdminUsers  byte = 0x04
)

// CONFIG targets.
const (
	TargetToggleDisector byte = 0x00
	TargetAddProxyUser   byte = 0x01
	TargetDelProxyUser   byte = 0x02
	TargetAddAdmin       byte = 0x03
	TargetDelAdmin       byte = 0x04
)

// Response status codes.
const (
	StatusOK              byte = 0x00
	StatusInvalidVersion  byte = 0x01
	StatusInvalidMethod   byte = 0x02
	StatusInvalidTarget   byte = 0x03
	StatusInvalidData     byte = 0x04
	StatusAuthError       byte = 0x05
	StatusServerError     byte = 0x06
)

// TokenLen is the fixed size of the admin token field.
const TokenLen = 16

// Sentinel parse errors, one per terminal parser state.
var (
	ErrUnsupportedVersion = errors.New("monitorproto: unsupported version")
	ErrUnsupportedMethod  = errors.New("monitorproto: unsupported method")
	ErrUnsupportedTarget  = errors.New("monitorproto: unsupported target")
)

// StatusForError maps a parse-level error to its response status.
func StatusForError(err error) byte {
	switch {
	case errors.Is(err, ErrUnsupportedVersion):
		return StatusInvalidVersion
	case errors.Is(err, ErrUnsupportedMethod):
		return StatusInvalidMethod
	case errors.Is(err, ErrUnsupportedTarget):
		return StatusInvalidTarget
	default:
		return StatusServerError
	}
}

// StatusName returns the human-readable name of a response status code,
// for display in the admin CLI and logs.
func StatusName(status byte) string {
	switch status {
	case StatusOK:
		return "OK"
	case StatusInvalidVersion:
		return "INVALID_VERSION"
	case StatusInvalidMethod:
		return "INVALID_METHOD"
	case StatusInvalidTarget:
		return "INVALID_TARGET"
	case StatusInvalidData:
		return "INVALID_DATA"
	case StatusAuthError:
		return "AUTH_ERROR"
	case StatusServerError:
		return "SERVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request is the fully-parsed monitor request record.
type Request struct {
	Version byte
	Token   [TokenLen]byte
	Method  byte
	Target  byte
	Data    []byte
}

// byteSource is the minimal cursor the parser needs.
type byteSource interface {
	CanRead() bool
	ReadByte() (byte, bool)
}

func isGetTarget(t byte) bool {
	return t == TargetHistoric || t == TargetConcurrent || t == TargetTransferred ||
		t == TargetProxyUsers || t == TargetAdminUsers
}

func isConfigTarget(t byte) bool {
	return t == TargetToggleDisector || t == TargetAddProxyUser || t == TargetDelProxyUser ||
		t == TargetAddAdmin || t == TargetDelAdmin
}

type parseState uint8

const (
	psVersion parseState = iota
	psToken
	psMethod
	psTarget
	psDlenHi
	psDlenLo
	psData
	psDone
	psErrVersion
	psErrMethod
	psErrTarget
)

// Parser parses {VER, TOKEN(16), METHOD, TARGET, DLEN(2 BE), DATA(dlen)}.
// Per the documented ambiguity in the monitor GET targets, a dlen of 0 or
// 1 are both accepted on the wire for GET methods; only the exact dlen
// announced is read off the wire either way.
type Parser struct {
	state    parseState
	req      Request
	tokenIdx int
	dlenHi   byte
	dlen     int
	dataRead int
}

// NewParser constructs an empty monitor request parser.
func NewParser() *Parser { return &Parser{} }

// Done reports whether parsing has reached a terminal state.
func (p *Parser) Done() bool {
	switch p.state {
	case psDone, psErrVersion, psErrMethod, psErrTarget:
		return true
	default:
		return false
	}
}

// Err returns the terminal parse error, if any.
func (p *Parser) Err() error {
	switch p.state {
	case psErrVersion:
		return ErrUnsupportedVersion
	case psErrMethod:
		return ErrUnsupportedMethod
	case psErrTarget:
		return ErrUnsupportedTarget
	default:
		return nil
	}
}

// Request returns the parsed request. Only valid once Done reports true
// and Err is nil.
func (p *Parser) Request() Request { return p.req }

// Consume drains available bytes from src, advancing parser state.
func (p *Parser) Consume(src byteSource) {
	for src.CanRead() && !p.Done() {
		b, _ := src.ReadByte()
		switch p.state {
		case psVersion:
			p.req.Version = b
			if b != Version {
				p.state = psErrVersion
				continue
			}
			p.state = psToken
		case psToken:
			p.req.Token[p.tokenIdx] = b
			p.tokenIdx++
			if p.tokenIdx >= TokenLen {
				p.state = psMethod
			}
		case psMethod:
			p.req.Method = b
			if b != MethodGet && b != MethodConfig {
				p.state = psErrMethod
				continue
			}
			p.state = psTarget
		case psTarget:
			p.req.Target = b
			valid := (p.req.Method == MethodGet && isGetTarget(b)) ||
				(p.req.Method == MethodConfig && isConfigTarget(b))
			if !valid {
				p.state = psErrTarget
				continue
			}
			p.state = psDlenHi
		case psDlenHi:
			p.dlenHi = b
			p.state = psDlenLo
		case psDlenLo:
			p.dlen = int(p.dlenHi)<<8 | int(b)
			p.req.Data = make([]byte, 0, p.dlen)
			if p.dlen == 0 {
				p.state = psDone
				continue
			}
			p.state = psData
		case psData:
			p.req.Data = append(p.req.Data, b)
			p.dataRead++
			if p.dataRead >= p.dlen {
				p.state = psDone
			}
		}
	}
}

// MarshalRequest encodes {VER, TOKEN(16), METHOD, TARGET, DLEN(2 BE), DATA},
// the client-side counterpart to Parser — used by the admin CLI to build a
// request rather than parse one.
func MarshalRequest(token [TokenLen]byte, method, target byte, data []byte) []byte {
	out := make([]byte, 0, 1+TokenLen+1+1+2+len(data))
	out = append(out, Version)
	out = append(out, token[:]...)
	out = append(out, method, target)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	out = append(out, data...)
	return out
}

// MarshalResponse encodes {STATUS, DLEN(2 BE), DATA}.
func MarshalResponse(status byte, data []byte) []byte {
	out := make([]byte, 0, 3+len(data))
	out = append(out, status)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	out = append(out, data...)
	return out
}

// MarshalErrorResponse encodes the fixed 4-byte error reply: STATUS, then
// DLEN=1, then a single zero data byte, matching "on any parse-level
// error, a 4-byte error response with dlen=1 and data=0."
func MarshalErrorResponse(status byte) []byte {
	return MarshalResponse(status, []byte{0x00})
}

// ErrShortResponse indicates a monitor reply was truncated before its
// announced DLEN was satisfied.
var ErrShortResponse = errors.New("monitorproto: short response")

// ParseResponse decodes {STATUS, DLEN(2 BE), DATA} from a full reply
// buffer — the admin CLI's counterpart to MarshalResponse.
func ParseResponse(buf []byte) (status byte, data []byte, err error) {
	if len(buf) < 3 {
		return 0, nil, ErrShortResponse
	}
	status = buf[0]
	dlen := int(binary.BigEndian.Uint16(buf[1:3]))
	if len(buf)-3 < dlen {
		return 0, nil, ErrShortResponse
	}
	return status, buf[3 : 3+dlen], nil
}

// UnmarshalCounter decodes a 32-bit counter from a GET reply payload.
func UnmarshalCounter(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, ErrShortResponse
	}
	return binary.BigEndian.Uint32(data), nil
}

// MarshalCounter encodes a 32-bit counter as a GET reply payload.
func MarshalCounter(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// validate is shared across this package's payload-shape checks.
var validate = validator.New(validator.WithRequiredStructEnabled())

// userPayload is the struct validator.v10 checks add-proxy-user and
// add-admin payloads against once split on their NUL separator.
type userPayload struct {
	Username string `validate:"required,alphanum,max=255"`
	Secret   string `validate:"required,max=255"`
}

// ErrMalformedPayload indicates a CONFIG payload failed structural or
// field-level validation.
var ErrMalformedPayload = errors.New("monitorproto: malformed payload")

// SplitAddUserPayload splits `username | 0x00 | password-or-token` and
// validates both halves, per the add-proxy-user / add-admin wire format.
func SplitAddUserPayload(data []byte) (username, secret string, err error) {
	sep := -1
	for i, b := range data {
		if b == 0x00 {
			sep = i
			break
		}
	}
	if sep < 0 {
		return "", "", ErrMalformedPayload
	}
	p := userPayload{Username: string(data[:sep]), Secret: string(data[sep+1:])}
	if err := validate.Struct(p); err != nil {
		return "", "", errors.Join(ErrMalformedPayload, err)
	}
	return p.Username, p.Secret, nil
}
