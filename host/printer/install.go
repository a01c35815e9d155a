package printer

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"m3dmanager/host/firmware"
	"m3dmanager/protocol"
)

// Stage names a step of firmware installation
type Stage string

const (
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageTransfer Stage = "transfer"
	StageVerify   Stage = "verify"
	StageComplete Stage = "complete"
)

// InstallError reports the stage a firmware installation failed in
type InstallError struct {
	Stage Stage
	Err   error
}

func (e *InstallError) Error() string {
	if e.Stage == StageTransfer && e.incomplete() {
		return fmt.Sprintf("firmware installation incomplete, device may need to be re-flashed: %v", e.Err)
	}
	return fmt.Sprintf("firmware installation failed during %s: %v", e.Stage, e.Err)
}

// incomplete reports whether the transfer stopped part way, leaving the
// printer without a usable application
func (e *InstallError) incomplete() bool {
	return errors.Is(e.Err, protocol.ErrDisconnected) ||
		errors.Is(e.Err, context.Canceled) ||
		errors.Is(e.Err, context.DeadlineExceeded)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// Progress contains information about the installation progress
type Progress struct {
	Stage Stage

	// Chunk is the number of chunks written so far
	Chunk       int
	TotalChunks int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	BytesWritten int
	Elapsed      time.Duration
}

// ProgressCallback is called after every installation step. The session
// lock is released while it runs, so it may call Session methods. Closing
// the session from it aborts the installation.
type ProgressCallback func(Progress)

// InstallFirmware loads the ROM at path and installs it. The file name is
// validated before the printer is touched.
func (s *Session) InstallFirmware(ctx context.Context, path string) error {
	img, err := firmware.Load(path)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.installFailed(StageValidate, err)
	}
	return s.Install(ctx, img)
}

// Install writes img through the bootloader. The printer is left in
// bootloader mode.
func (s *Session) Install(ctx context.Context, img *firmware.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	total := img.Chunks(s.opts.chunkSize)
	report := func(stage Stage, chunk, written int) {
		if s.opts.progress == nil {
			return
		}
		pct := 0.0
		if img.Size() > 0 {
			pct = float64(written) * 100 / float64(img.Size())
		}
		p := Progress{
			Stage:        stage,
			Chunk:        chunk,
			TotalChunks:  total,
			Percentage:   pct,
			BytesWritten: written,
			Elapsed:      time.Since(start),
		}

		s.mu.Unlock()
		defer s.mu.Lock()
		s.opts.progress(p)
	}

	if err := img.Validate(firmware.MinSize, firmware.MaxSize); err != nil {
		return s.installFailed(StageValidate, err)
	}
	report(StageValidate, 0, 0)

	if !s.connected() {
		if err := s.connect(ctx, ""); err != nil {
			return s.installFailed(StageConnect, err)
		}
	}
	if err := s.switchMode(ctx, ModeBootloader); err != nil {
		return s.installFailed(StageConnect, err)
	}
	report(StageConnect, 0, 0)

	s.log.Info().
		Str("image", img.Name).
		Uint64("version", img.Version).
		Int("size", img.Size()).
		Int("chunks", total).
		Msg("installing firmware")

	begin := []byte{protocol.OpBegin}
	begin = binary.LittleEndian.AppendUint32(begin, uint32(img.Size()))
	begin = binary.LittleEndian.AppendUint64(begin, img.Version)
	if err := s.expectAck(ctx, begin); err != nil {
		return s.installFailed(StageTransfer, err)
	}

	written := 0
	for i := 0; i < total; i++ {
		chunk := img.Chunk(i, s.opts.chunkSize)

		payload := make([]byte, 0, 3+len(chunk))
		payload = append(payload, protocol.OpWrite)
		payload = binary.LittleEndian.AppendUint16(payload, uint16(i))
		payload = append(payload, chunk...)

		if err := s.expectAck(ctx, payload); err != nil {
			return s.installFailed(StageTransfer, fmt.Errorf("chunk %d/%d: %w", i+1, total, err))
		}

		written += len(chunk)
		report(StageTransfer, i+1, written)
	}

	verify := []byte{protocol.OpVerify}
	verify = binary.LittleEndian.AppendUint32(verify, uint32(img.Size()))
	verify = binary.LittleEndian.AppendUint32(verify, img.CRC32())
	if err := s.expectAck(ctx, verify); err != nil {
		return s.installFailed(StageVerify, err)
	}

	report(StageComplete, total, written)
	s.status = "Firmware installed"
	s.log.Info().Dur("elapsed", time.Since(start)).Msg("firmware installed")
	return nil
}

// expectAck sends payload and requires an ok
func (s *Session) expectAck(ctx context.Context, payload []byte) error {
	resp, err := s.request(ctx, payload)
	if err != nil {
		return err
	}
	if resp.Kind != protocol.KindAck {
		return fmt.Errorf("%w: unexpected %q", protocol.ErrDevice, resp.Line)
	}
	return nil
}

func (s *Session) installFailed(stage Stage, err error) error {
	ie := &InstallError{Stage: stage, Err: err}
	s.status = ie.Error()
	s.log.Error().Err(err).Str("stage", string(stage)).Msg("firmware installation failed")
	return ie
}
