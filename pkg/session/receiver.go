package session

import (
	"context"
	"time"

	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/storage"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
)

func (s *Session) beginDownload() error {
	dst, err := s.create()
	if err != nil {
		return err
	}

	s.dst = dst
	s.emit(events.Event{Kind: events.SessionStarted})

	if s.request != nil {
		return s.transmit(s.request)
	}

	s.acked = true

	return s.transmit(&types.Ack{BlockNum: 0})
}

// onData writes the expected block and acknowledges it. Any other block is
// answered with the last acknowledgement and nothing is written, so a
// duplicate never reaches the file twice.
func (s *Session) onData(data *types.Data) bool {
	expected := s.block + 1

	if data.BlockNum != expected {
		if s.acked {
			s.stats.Duplicates++

			if s.cfg.Trace {
				s.l.Debugf("data block# %d != expected block# %d, resending ack", data.BlockNum, expected)
			}

			s.resend()
		}

		return false
	}

	if _, err := s.dst.Write(data.Payload); err != nil {
		s.terminate(StateFailed, storage.MapWriteError(err), true)

		return true
	}

	s.block = expected
	s.retries = 0
	s.acked = true
	s.stats.Bytes += int64(len(data.Payload))
	s.stats.Blocks++

	if s.cfg.Trace {
		s.l.Debugf("received block#=%d, received #bytes=%d", data.BlockNum, len(data.Payload))
	}

	if err := s.transmit(&types.Ack{BlockNum: s.block}); err != nil {
		s.terminate(StateFailed, err, true)

		return true
	}

	s.emit(events.Event{Kind: events.BlockTransferred, Block: s.block, Bytes: s.stats.Bytes})

	if data.Final() {
		s.finish(StateCompleted, nil)
	}

	return true
}

// dally keeps a completed download around long enough to acknowledge the
// final block again if the peer never saw our last ACK.
func (s *Session) dally(ctx context.Context) {
	if s.dir != Download || s.State() != StateCompleted || s.cfg.Dally <= 0 {
		return
	}

	timer := time.NewTimer(s.cfg.Dally)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case in := <-s.inbox:
			data, ok := in.pkt.(*types.Data)
			if ok && data.BlockNum == s.block && in.from.String() == s.peer.String() {
				s.l.Debugf("final block# %d repeated, resending ack", data.BlockNum)
				s.resend()
			}
		}
	}
}
