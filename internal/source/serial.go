// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

// SerialSource reads NMEA sentences from a GPS receiver on a serial port.
type SerialSource struct {
	opts serial.OpenOptions
	open func(serial.OpenOptions) (io.ReadWriteCloser, error)
	log  *zap.Logger
	slot slot
}

// SerialOptions describes an 8N1 GPS port, e.g. /dev/serial0, /dev/ttyAMA0 or /dev/ttyUSB0.
func SerialOptions(portName string, baudRate int) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baudRate),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
}

func NewSerialSource(portName string, baudRate int, log *zap.Logger) *SerialSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialSource{
		opts: SerialOptions(portName, baudRate),
		open: serial.Open,
		log:  log.Named("serial"),
	}
}

// Subscribe opens the port and streams the latest valid fix every interval.
func (s *SerialSource) Subscribe(ctx context.Context, interval time.Duration, onSample func(gps.Position)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.slot.mu.Lock()
	defer s.slot.mu.Unlock()
	if s.slot.sub != nil {
		return ErrAlreadySubscribed
	}

	port, err := s.open(s.opts)
	if err != nil {
		return fmt.Errorf("open GPS serial port %s: %w", s.opts.PortName, err)
	}
	s.log.Info("GPS serial port opened",
		zap.String("port", s.opts.PortName),
		zap.Uint("baud", s.opts.BaudRate))

	sub, subCtx := newSubscription()
	sub.release = func() { _ = port.Close() }

	var last latest
	sub.goRun(func() { s.readLoop(subCtx, sub.cancel, port, &last) })
	sub.goRun(func() { emitEvery(subCtx, interval, &last, onSample) })

	s.slot.sub = sub
	return nil
}

// Unsubscribe closes the port and waits for the reader to exit.
func (s *SerialSource) Unsubscribe() {
	s.slot.unsubscribe()
}

// readLoop feeds port lines to the decoder. A read error ends the whole
// subscription so a dead receiver is not reported as a stale fix forever.
func (s *SerialSource) readLoop(ctx context.Context, cancel context.CancelFunc, port io.Reader, last *latest) {
	reader := bufio.NewReader(port)
	var dec gps.Decoder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				s.log.Error("GPS read failed, no more samples until resubscribed",
					zap.String("port", s.opts.PortName),
					zap.Error(err))
				cancel()
			}
			return
		}

		fix, ok := dec.Feed(line)
		if !ok {
			continue
		}
		if !fix.Valid() {
			s.log.Debug("GPS fix not valid yet", zap.String("validity", fix.Validity))
			continue
		}
		last.set(fix.Position())
	}
}
