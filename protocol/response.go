package protocol

import "strings"

// Kind classifies a response line
type Kind int

const (
	KindEmpty        Kind = iota // Blank line, keep reading
	KindData                     // Informational output, keep reading
	KindAck                      // "ok"
	KindResend                   // "rs", carries the sequence to resend
	KindSkip                     // "skip", received but not executed
	KindError                    // "Error"
	KindWait                     // "wait", device idle, keep reading
	KindDisconnected             // Link lost
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindResend:
		return "resend"
	case KindSkip:
		return "skip"
	case KindError:
		return "error"
	case KindWait:
		return "wait"
	case KindDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether a response of this kind ends the wait for the
// current request.
func (k Kind) Terminal() bool {
	switch k {
	case KindAck, KindResend, KindSkip, KindError, KindDisconnected:
		return true
	}
	return false
}

// Response prefixes in priority order
const (
	PrefixAck    = "ok"
	PrefixResend = "rs"
	PrefixSkip   = "skip"
	PrefixError  = "Error"
	LiteralWait  = "wait"
)

// Response is one decoded line from the printer
type Response struct {
	Line string
	Kind Kind

	// ResendSeq is the sequence the printer asked for. Only meaningful
	// when HasResendSeq is set; otherwise the last request is meant.
	ResendSeq    uint32
	HasResendSeq bool
}

// DecodeResponse classifies a raw response line. Prefixes are matched
// case-sensitively in the order ok, rs, skip, Error, then the exact
// literal wait.
func DecodeResponse(raw string) Response {
	line := strings.TrimRight(raw, "\r\n")
	resp := Response{Line: line}

	switch {
	case line == "":
		resp.Kind = KindEmpty
	case strings.HasPrefix(line, PrefixAck):
		resp.Kind = KindAck
	case strings.HasPrefix(line, PrefixResend):
		resp.Kind = KindResend
		resp.ResendSeq, resp.HasResendSeq = firstNumber(line[len(PrefixResend):])
	case strings.HasPrefix(line, PrefixSkip):
		resp.Kind = KindSkip
	case strings.HasPrefix(line, PrefixError):
		resp.Kind = KindError
	case line == LiteralWait:
		resp.Kind = KindWait
	default:
		resp.Kind = KindData
	}

	return resp
}

// firstNumber extracts the first run of decimal digits in s
func firstNumber(s string) (uint32, bool) {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	if i == len(s) {
		return 0, false
	}

	var v uint64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		v = v*10 + uint64(s[i]-'0')
		if v > 0xFFFFFFFF {
			return 0, false
		}
	}
	return uint32(v), true
}
