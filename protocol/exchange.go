package protocol

import "fmt"

// ExchangeState is the state of one outstanding request
type ExchangeState int

const (
	AwaitingResponse ExchangeState = iota
	Acked
	ResendRequested
	Disconnected
	Errored
)

func (s ExchangeState) String() string {
	switch s {
	case AwaitingResponse:
		return "awaiting-response"
	case Acked:
		return "acked"
	case ResendRequested:
		return "resend-requested"
	case Disconnected:
		return "disconnected"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// Action tells the session what to do after a response was observed
type Action int

const (
	ActionContinue Action = iota // Keep reading
	ActionResend                 // Retransmit, then call Resent
	ActionDone                   // Request finished
)

// Exchange tracks one request from send to terminal response. Resends
// are bounded per target sequence and, across retargets, to twice that
// in total.
type Exchange struct {
	Seq        uint32
	MaxResends int

	state   ExchangeState
	resends int // for the current target
	total   int
}

// NewExchange starts tracking the request with sequence seq
func NewExchange(seq uint32, maxResends int) *Exchange {
	return &Exchange{
		Seq:        seq,
		MaxResends: maxResends,
		state:      AwaitingResponse,
	}
}

// State returns the current state
func (e *Exchange) State() ExchangeState {
	return e.state
}

// Resends returns how many retransmissions the current target needed
func (e *Exchange) Resends() int {
	return e.resends
}

// TotalResends counts retransmissions across every target
func (e *Exchange) TotalResends() int {
	return e.total
}

// Observe feeds a decoded response into the state machine.
func (e *Exchange) Observe(resp Response) (Action, error) {
	switch e.state {
	case Disconnected:
		return ActionDone, ErrDisconnected
	case Errored:
		return ActionDone, fmt.Errorf("%w: request %d already failed", ErrProtocol, e.Seq)
	}

	switch resp.Kind {
	case KindAck, KindSkip:
		e.state = Acked
		e.resends = 0
		return ActionDone, nil

	case KindResend:
		if resp.HasResendSeq && resp.ResendSeq != e.Seq {
			// A new target restarts the budget
			e.Seq = resp.ResendSeq
			e.resends = 0
		}
		e.resends++
		e.total++
		if e.resends > e.MaxResends {
			e.state = Errored
			return ActionDone, &ResendLimitError{Seq: e.Seq, Resends: e.MaxResends}
		}
		if e.total > 2*e.MaxResends {
			e.state = Errored
			return ActionDone, &ResendLimitError{Seq: e.Seq, Resends: e.total - 1}
		}
		e.state = ResendRequested
		return ActionResend, nil

	case KindError:
		e.state = Errored
		return ActionDone, &DeviceError{Line: resp.Line}

	case KindDisconnected:
		e.state = Disconnected
		return ActionDone, ErrDisconnected
	}

	return ActionContinue, nil
}

// Resent acknowledges that the requested retransmission happened
func (e *Exchange) Resent() {
	if e.state == ResendRequested {
		e.state = AwaitingResponse
	}
}

// Fail records a transport failure; the exchange is over
func (e *Exchange) Fail() {
	e.state = Disconnected
}
