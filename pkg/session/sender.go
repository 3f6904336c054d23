package session

import (
	"errors"
	"fmt"
	"io"

	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

func (s *Session) beginUpload() error {
	src, err := s.open()
	if err != nil {
		return err
	}

	s.src = src

	started := events.Event{Kind: events.SessionStarted}
	if ct, ok := src.(ContentTyper); ok {
		started.ContentType = ct.ContentType()
	}

	s.emit(started)

	if s.request != nil {
		return s.transmit(s.request)
	}

	return s.sendNextBlock()
}

// onAck advances the upload when the outstanding block is acknowledged.
// Any other block number is a stale duplicate and is ignored.
func (s *Session) onAck(ack *types.Ack) bool {
	if ack.BlockNum != s.block {
		s.stats.Duplicates++

		if s.cfg.Trace {
			s.l.Debugf("ack block# %d != expected block# %d", ack.BlockNum, s.block)
		}

		return false
	}

	s.retries = 0

	if s.State() == StateAwaitingFirstAck {
		s.setState(StateSending)
	} else {
		s.stats.Bytes += int64(s.lastLen)
		s.stats.Blocks++

		if s.cfg.Trace {
			s.l.Debugf("received ack block#=%d", ack.BlockNum)
		}

		s.emit(events.Event{Kind: events.BlockTransferred, Block: s.block, Bytes: s.stats.Bytes})
	}

	if s.final {
		s.finish(StateCompleted, nil)

		return true
	}

	if err := s.sendNextBlock(); err != nil {
		s.terminate(StateFailed, err, true)
	}

	return true
}

// sendNextBlock reads up to one block and sends it. A short read marks the
// final block; a file that is a multiple of the block size ends with an
// empty one.
func (s *Session) sendNextBlock() error {
	n, err := io.ReadFull(s.src, s.buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("error while reading file block: %w", err)
	}

	s.block++
	s.lastLen = n
	s.final = n < types.MaxPayloadSize

	if s.cfg.Trace {
		s.l.Debugf("sent block#=%d, sent #bytes=%d", s.block, n)
	}

	return s.transmit(&types.Data{BlockNum: s.block, Payload: s.buf[:n]})
}
