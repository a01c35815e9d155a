// Package printer drives an M3D printer over a serial link: connection and
// mode handling, framed requests with resend on corruption, and firmware
// installation through the bootloader.
package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"m3dmanager/host/serial"
	"m3dmanager/protocol"
)

// historySize is how many sent requests stay available for resends
const historySize = 16

type sentRequest struct {
	binary  bool
	seq     uint32
	payload []byte
}

// Session is a connection to one printer. It is blocking and
// single-threaded; concurrent calls are serialised.
type Session struct {
	mu sync.Mutex

	provider serial.Provider
	opts     settings
	log      zerolog.Logger

	transport *serial.Transport
	mode      Mode
	status    string

	seqBinary uint16
	seqASCII  uint32
	history   []sentRequest

	// Outstanding request, if any
	pending       *protocol.Exchange
	pendingBinary bool
}

// New creates a Session that finds and opens ports through provider
func New(provider serial.Provider, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		opts:     defaultSettings(),
		status:   "Not connected",
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	s.log = s.opts.log.With().Str("component", "printer").Logger()
	return s
}

// Connect opens port and identifies the printer on it. With an empty
// port every candidate from the provider is tried in turn.
func (s *Session) Connect(ctx context.Context, port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connect(ctx, port)
}

func (s *Session) connect(ctx context.Context, port string) error {
	s.closeTransport()
	s.mode = ModeUnknown

	if port != "" {
		if err := s.attach(ctx, port, ModeUnknown); err != nil {
			s.status = fmt.Sprintf("Failed to connect to %s: %v", port, err)
			return fmt.Errorf("%w: %s: %w", protocol.ErrConnection, port, err)
		}
		return nil
	}

	ports, err := s.provider.Ports()
	if err != nil {
		s.status = "Failed to list serial ports"
		return fmt.Errorf("%w: %w", protocol.ErrConnection, err)
	}

	for _, name := range ports {
		if err := ctx.Err(); err != nil {
			s.status = "Connection cancelled"
			return fmt.Errorf("connect cancelled: %w", err)
		}
		err := s.attach(ctx, name, ModeUnknown)
		if err == nil {
			return nil
		}
		s.log.Debug().Err(err).Str("port", name).Msg("no printer on port")
	}

	s.status = "Printer not detected"
	return protocol.ErrDiscoveryExhausted
}

// attach opens name and binds it if the device identifies in want mode
// (or any mode for ModeUnknown)
func (s *Session) attach(ctx context.Context, name string, want Mode) error {
	port, err := s.provider.Open(s.opts.serial(name))
	if err != nil {
		return err
	}

	t := serial.NewTransport(port, name)
	mode, err := s.probe(ctx, t)
	if err == nil && want != ModeUnknown && mode != want {
		err = fmt.Errorf("printer is in %s mode", mode)
	}
	if err != nil {
		t.Close()
		return err
	}

	s.transport = t
	s.mode = mode
	s.seqBinary = 0
	s.seqASCII = 0
	s.history = s.history[:0]
	s.pending = nil
	s.status = fmt.Sprintf("Connected to %s in %s mode", name, mode)

	s.log.Info().Str("port", name).Stringer("mode", mode).Msg("printer connected")
	return nil
}

// probe sends the unframed identify request and classifies the reply
func (s *Session) probe(ctx context.Context, t *serial.Transport) (Mode, error) {
	t.Discard()
	if err := t.Write([]byte(protocol.IdentifyRequest + string(protocol.LineTerminator))); err != nil {
		return ModeUnknown, err
	}

	deadline := time.Now().Add(s.opts.probeTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ModeUnknown, fmt.Errorf("%w: no identify response", protocol.ErrTimeout)
		}

		line, err := t.ReadLine(ctx, remaining)
		if err != nil {
			return ModeUnknown, err
		}

		if line == protocol.BootloaderSignature {
			return ModeBootloader, nil
		}
		if protocol.DecodeResponse(line).Kind == protocol.KindAck {
			return ModeFirmware, nil
		}
		s.log.Debug().Str("line", line).Msg("ignoring line while probing")
	}
}

// Close closes the connection
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.closeTransport()
	s.mode = ModeUnknown
	s.status = "Disconnected"
	return err
}

func (s *Session) closeTransport() error {
	s.pending = nil
	if s.transport == nil {
		return nil
	}
	err := s.transport.Close()
	s.transport = nil
	return err
}

// markDisconnected records a lost link
func (s *Session) markDisconnected(err error) {
	if s.transport != nil {
		s.log.Warn().Err(err).Str("port", s.transport.Name()).Msg("printer disconnected")
	}
	s.closeTransport()
	s.mode = ModeUnknown
	s.status = err.Error()
}

// IsConnected reports whether a transport is open and still usable
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected()
}

func (s *Session) connected() bool {
	return s.transport != nil && s.transport.Alive()
}

// GetStatus returns the last human readable status or error
func (s *Session) GetStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// GetCurrentSerialPort returns the port of the open connection
func (s *Session) GetCurrentSerialPort() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Name()
}

func (s *Session) ready() error {
	if !s.connected() {
		return s.fail(fmt.Errorf("%w: not connected to printer", protocol.ErrDisconnected))
	}
	return nil
}

// fail records err as the status and returns it
func (s *Session) fail(err error) error {
	s.status = err.Error()
	return err
}

// abort closes the link after the caller's context ended
func (s *Session) abort(err error) error {
	s.closeTransport()
	s.mode = ModeUnknown
	s.status = fmt.Sprintf("Cancelled: %v", err)
	return err
}

// SendRequestBinary sends a G-code command as a binary frame
func (s *Session) SendRequestBinary(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendBinary([]byte(text))
}

// SendRequestASCII sends a G-code command as a checksummed text line
func (s *Session) SendRequestASCII(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}

	seq := s.seqASCII
	line, err := protocol.EncodeASCII(seq, text)
	if err != nil {
		return s.fail(err)
	}
	if err := s.write(line); err != nil {
		return err
	}

	s.remember(false, seq, []byte(text))
	s.seqASCII++
	return nil
}

func (s *Session) sendBinary(payload []byte) error {
	if err := s.ready(); err != nil {
		return err
	}

	seq := s.seqBinary
	frame, err := protocol.EncodeBinary(seq, payload)
	if err != nil {
		return s.fail(err)
	}
	if err := s.write(frame); err != nil {
		return err
	}

	s.remember(true, uint32(seq), payload)
	s.seqBinary++
	return nil
}

func (s *Session) remember(binary bool, seq uint32, payload []byte) {
	if len(s.history) == historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:historySize-1]
	}
	s.history = append(s.history, sentRequest{
		binary:  binary,
		seq:     seq,
		payload: append([]byte(nil), payload...),
	})

	s.pending = protocol.NewExchange(seq, s.opts.maxResends)
	s.pendingBinary = binary
}

func (s *Session) write(b []byte) error {
	s.log.Debug().Hex("frame", b).Msg("send")
	if err := s.transport.Write(b); err != nil {
		s.markDisconnected(err)
		return err
	}
	return nil
}

// retransmit re-encodes a remembered request, recomputing its checksum
func (s *Session) retransmit(binary bool, seq uint32) error {
	for i := len(s.history) - 1; i >= 0; i-- {
		req := s.history[i]
		if req.binary != binary || req.seq != seq {
			continue
		}

		var frame []byte
		var err error
		if binary {
			frame, err = protocol.EncodeBinary(uint16(seq), req.payload)
		} else {
			frame, err = protocol.EncodeASCII(seq, string(req.payload))
		}
		if err != nil {
			return s.fail(err)
		}

		s.log.Debug().Uint32("seq", seq).Msg("resending request")
		return s.write(frame)
	}
	return s.fail(fmt.Errorf("%w: printer asked for request %d which is no longer buffered", protocol.ErrProtocol, seq))
}

// ReceiveResponse reads and classifies one response line. A resend
// request is served here: the targeted request is written again and
// reading continues. On timeout the connection is kept.
func (s *Session) ReceiveResponse(ctx context.Context) (protocol.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receive(ctx)
}

func (s *Session) receive(ctx context.Context) (protocol.Response, error) {
	if err := s.ready(); err != nil {
		return protocol.Response{Kind: protocol.KindDisconnected}, err
	}

	for {
		resp, err := s.readResponse(ctx)
		if err != nil {
			return resp, err
		}
		if resp.Kind == protocol.KindEmpty {
			continue
		}

		if s.pending == nil && resp.Kind == protocol.KindResend {
			// A late resend request for an already answered command
			req, ok := s.resendTarget(resp)
			if !ok {
				return resp, s.fail(fmt.Errorf("%w: %q names no buffered request", protocol.ErrProtocol, resp.Line))
			}
			s.pending = protocol.NewExchange(req.seq, s.opts.maxResends)
			s.pendingBinary = req.binary
		}
		ex := s.pending
		if ex == nil {
			return resp, nil
		}

		action, err := ex.Observe(resp)
		switch action {
		case protocol.ActionResend:
			s.log.Warn().Uint32("seq", ex.Seq).Int("attempt", ex.Resends()).Msg("printer requested resend")
			if err := s.retransmit(s.pendingBinary, ex.Seq); err != nil {
				s.pending = nil
				return resp, err
			}
			ex.Resent()
			continue
		case protocol.ActionDone:
			s.pending = nil
			if err != nil {
				s.status = err.Error()
			}
			return resp, err
		}
		return resp, nil
	}
}

// resendTarget finds the remembered request a resend names. Without a
// sequence the most recent request is meant. The protocol of the most
// recent request is searched first.
func (s *Session) resendTarget(resp protocol.Response) (sentRequest, bool) {
	if len(s.history) == 0 {
		return sentRequest{}, false
	}
	last := s.history[len(s.history)-1]
	if !resp.HasResendSeq {
		return last, true
	}

	for _, binary := range []bool{last.binary, !last.binary} {
		for i := len(s.history) - 1; i >= 0; i-- {
			req := s.history[i]
			if req.binary == binary && req.seq == resp.ResendSeq {
				return req, true
			}
		}
	}
	return sentRequest{}, false
}

// readResponse reads one line within the response timeout
func (s *Session) readResponse(ctx context.Context) (protocol.Response, error) {
	line, err := s.transport.ReadLine(ctx, s.opts.responseTimeout)
	if err == nil {
		resp := protocol.DecodeResponse(line)
		s.log.Debug().Str("line", resp.Line).Stringer("kind", resp.Kind).Msg("receive")
		return resp, nil
	}

	switch {
	case errors.Is(err, protocol.ErrTimeout):
		return protocol.Response{}, s.fail(fmt.Errorf("%w after %v", protocol.ErrTimeout, s.opts.responseTimeout))
	case ctx.Err() != nil:
		return protocol.Response{Kind: protocol.KindDisconnected}, s.abort(ctx.Err())
	default:
		s.markDisconnected(err)
		return protocol.Response{Kind: protocol.KindDisconnected}, err
	}
}

// request sends a binary payload and waits for its terminal response
func (s *Session) request(ctx context.Context, payload []byte) (protocol.Response, error) {
	if err := ctx.Err(); err != nil {
		return protocol.Response{Kind: protocol.KindDisconnected}, s.abort(err)
	}
	if err := s.sendBinary(payload); err != nil {
		return protocol.Response{}, err
	}
	for {
		resp, err := s.receive(ctx)
		if err != nil {
			return resp, err
		}
		if resp.Kind.Terminal() {
			return resp, nil
		}
	}
}
