package events

import (
	"fmt"
	"time"
)

// Stats summarizes one transfer.
type Stats struct {
	Bytes       int64
	Blocks      int64
	Retransmits int64
	Duplicates  int64
	Duration    time.Duration
}

// Kbps is the average rate in kilobits per second, 0 when the transfer was
// too short to measure.
func (s Stats) Kbps() float64 {
	if s.Duration <= 0 {
		return 0
	}

	return float64(s.Bytes) * 8 / 1000 / s.Duration.Seconds()
}

func (s Stats) String() string {
	if s.Duration <= 0 {
		return fmt.Sprintf("transferred %d bytes in %d blocks, rate undetermined, %d retransmits, %d duplicates",
			s.Bytes, s.Blocks, s.Retransmits, s.Duplicates)
	}

	return fmt.Sprintf("transferred %d bytes in %d blocks in %s (%.2f kbps), %d retransmits, %d duplicates",
		s.Bytes, s.Blocks, s.Duration.Round(time.Millisecond), s.Kbps(), s.Retransmits, s.Duplicates)
}
