package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/Wa4h1h/tftp-engine/pkg/netascii"
	"github.com/Wa4h1h/tftp-engine/pkg/storage"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

func sendErrorPacket(conn net.PacketConn, addr net.Addr, errorPacket *types.Error) error {
	b, err := types.Encode(errorPacket)
	if err != nil {
		return fmt.Errorf("error while marshal error packet: %w", err)
	}

	if _, err := conn.WriteTo(b, addr); err != nil {
		return fmt.Errorf("error while sending error packet to %s: %w", addr, err)
	}

	return nil
}

// source is a file being served, with its sniffed content type.
type source struct {
	io.Reader
	io.Closer
	contentType string
}

func (s *source) ContentType() string {
	return s.contentType
}

func openSource(root *storage.Root, name string, mode types.Mode, peer net.Addr, generate OpenFunc) (io.ReadCloser, error) {
	var (
		rc          io.ReadCloser
		contentType string
	)

	f, err := root.Open(name)

	switch {
	case err == nil:
		rc, contentType = f, storage.DetectType(f)
	case generate != nil && errors.Is(err, utils.ErrFileNotFound):
		if rc, err = generate(name, peer); err != nil {
			return nil, err
		}

		if rs, ok := rc.(io.ReadSeeker); ok {
			contentType = storage.DetectType(rs)
		}
	default:
		return nil, err
	}

	src := &source{Reader: rc, Closer: rc, contentType: contentType}

	if mode == types.ModeNetASCII {
		src.Reader = netascii.NewEncoder(rc)
	}

	return src, nil
}

func createSink(root *storage.Root, name string, mode types.Mode, overwrite bool, peer net.Addr, create CreateFunc) (io.WriteCloser, error) {
	var (
		w   io.WriteCloser
		err error
	)

	if create != nil {
		w, err = create(name, peer)
	} else {
		w, err = root.Create(name, overwrite)
	}

	if err != nil {
		return nil, err
	}

	if mode == types.ModeNetASCII {
		return netascii.NewDecoder(w), nil
	}

	return w, nil
}
