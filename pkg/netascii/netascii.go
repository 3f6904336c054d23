// Package netascii translates between local text files and the netascii
// transfer form: LF is sent as CR LF and a bare CR as CR NUL.
package netascii

import (
	"bufio"
	"io"
)

type encoder struct {
	r       *bufio.Reader
	pending byte
	has     bool
}

// NewEncoder returns a reader producing the netascii form of r.
func NewEncoder(r io.Reader) io.Reader {
	return &encoder{r: bufio.NewReader(r)}
}

func (e *encoder) Read(p []byte) (int, error) {
	n := 0

	for n < len(p) {
		if e.has {
			p[n] = e.pending
			e.has = false
			n++

			continue
		}

		c, err := e.r.ReadByte()
		if err != nil {
			if err == io.EOF && n > 0 {
				return n, nil
			}

			return n, err
		}

		switch c {
		case '\n':
			p[n] = '\r'
			e.pending, e.has = '\n', true
		case '\r':
			p[n] = '\r'
			e.pending, e.has = 0, true
		default:
			p[n] = c
		}

		n++
	}

	return n, nil
}

type decoder struct {
	w  io.Writer
	cr bool
}

// NewDecoder returns a writer that turns netascii back into local text
// before writing to w. A CR split across two writes is held until the next
// write or Close. Close closes w when it is an io.Closer.
func NewDecoder(w io.Writer) io.WriteCloser {
	return &decoder{w: w}
}

func (d *decoder) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p)+1)

	for _, c := range p {
		if d.cr {
			d.cr = false

			switch c {
			case '\n':
				out = append(out, '\n')

				continue
			case 0:
				out = append(out, '\r')

				continue
			default:
				out = append(out, '\r')
			}
		}

		if c == '\r' {
			d.cr = true

			continue
		}

		out = append(out, c)
	}

	if _, err := d.w.Write(out); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (d *decoder) Close() error {
	if d.cr {
		d.cr = false

		if _, err := d.w.Write([]byte{'\r'}); err != nil {
			return err
		}
	}

	if c, ok := d.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
