package ring

import (
	"errors"
	"time"

	"github.com/cilium/ebpf/ringbuf"
)

// CiliumSource adapts a *ringbuf.Reader (github.com/cilium/ebpf/ringbuf) to
// the Source interface.
type CiliumSource struct {
	reader *ringbuf.Reader
}

func NewCiliumSource(reader *ringbuf.Reader) *CiliumSource {
	return &CiliumSource{reader: reader}
}

func (s *CiliumSource) SetDeadline(t time.Time) error {
	return s.reader.SetDeadline(t)
}

func (s *CiliumSource) Read() ([]byte, error) {
	record, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, ringbuf.ErrClosed) {
			return nil, err
		}
		var timeoutErr interface{ Timeout() bool }
		if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
			return nil, ErrWouldBlock
		}
		return nil, err
	}
	return record.RawSample, nil
}

func (s *CiliumSource) Close() error {
	return s.reader.Close()
}
