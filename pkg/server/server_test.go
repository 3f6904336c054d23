package server_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Wa4h1h/tftp-engine/pkg/client"
	"github.com/Wa4h1h/tftp-engine/pkg/events"
	"github.com/Wa4h1h/tftp-engine/pkg/server"
	"github.com/Wa4h1h/tftp-engine/pkg/types"
	"github.com/Wa4h1h/tftp-engine/pkg/utils"
)

type testServer struct {
	*server.Server
	root string
	addr string
	bus  *events.Bus
}

func startServer(t *testing.T, configure ...func(*server.Config)) *testServer {
	t.Helper()

	bus := events.NewBus()

	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = "0"
	cfg.Root = t.TempDir()
	cfg.Events = bus
	cfg.ReusePort = false

	for _, c := range configure {
		c(&cfg)
	}

	srv, err := server.NewServer(zaptest.NewLogger(t).Sugar(), cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
	})

	return &testServer{Server: srv, root: cfg.Root, addr: srv.Addr().String(), bus: bus}
}

func newClient(t *testing.T, ts *testServer, opts ...client.Option) *client.Client {
	t.Helper()

	c := client.NewClient(zaptest.NewLogger(t).Sugar(), opts...)
	require.NoError(t, c.Connect(ts.addr))

	t.Cleanup(func() {
		assert.NoError(t, c.Close())
	})

	return c
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, content, 0o644))
}

func peerSocket(t *testing.T) net.PacketConn {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn net.PacketConn, to string, p types.Packet) {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", to)
	require.NoError(t, err)

	b, err := types.Encode(p)
	require.NoError(t, err)

	_, err = conn.WriteTo(b, addr)
	require.NoError(t, err)
}

func receive(t *testing.T, conn net.PacketConn) (types.Packet, net.Addr) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	buf := make([]byte, types.ReadBufferSize)

	n, addr, err := conn.ReadFrom(buf)
	require.NoError(t, err)

	p, err := types.Decode(buf[:n])
	require.NoError(t, err)

	return p, addr
}

func nextEvent(t *testing.T, ch <-chan events.Event, kind events.Kind) events.Event {
	t.Helper()

	timeout := time.After(3 * time.Second)

	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestUploadTenBytes(t *testing.T) {
	ts := startServer(t)
	ch, unsubscribe := ts.bus.Subscribe(64)
	defer unsubscribe()

	local := filepath.Join(t.TempDir(), "ten.bin")
	writeFile(t, local, []byte("0123456789"))

	res, err := newClient(t, ts).Put(context.Background(), local, "ten.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Bytes)
	assert.NotEmpty(t, res.SessionID)

	done := nextEvent(t, ch, events.SessionCompleted)
	require.NotNil(t, done.Stats)
	assert.Equal(t, int64(10), done.Stats.Bytes)
	assert.Equal(t, "download", done.Direction)

	got, err := os.ReadFile(filepath.Join(ts.root, "ten.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), got)
}

func TestSequentialUploadsWithOneSessionSlot(t *testing.T) {
	ts := startServer(t, func(cfg *server.Config) {
		cfg.MaxSessions = 1
		cfg.Dally = time.Minute
	})
	ch, unsubscribe := ts.bus.Subscribe(64)
	defer unsubscribe()

	c := newClient(t, ts)
	dir := t.TempDir()

	for _, name := range []string{"a.bin", "b.bin"} {
		local := filepath.Join(dir, name)
		writeFile(t, local, []byte(name))

		_, err := c.Put(context.Background(), local, name)
		require.NoError(t, err, name)

		nextEvent(t, ch, events.SessionCompleted)

		got, err := os.ReadFile(filepath.Join(ts.root, name))
		require.NoError(t, err)
		assert.Equal(t, []byte(name), got)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	ts := startServer(t)
	local := filepath.Join(t.TempDir(), "missing.bin")

	_, err := newClient(t, ts).Get(context.Background(), "missing.bin", local)
	require.ErrorIs(t, err, utils.ErrFileNotFound)
	require.ErrorIs(t, err, utils.ErrPeerReported)

	var peerErr *types.PeerError
	require.True(t, errors.As(err, &peerErr))
	assert.Equal(t, types.ErrFileNotFound, peerErr.Code)

	_, err = os.Stat(local)
	assert.True(t, os.IsNotExist(err))
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{name: "empty", size: 0},
		{name: "short", size: 511},
		{name: "one block", size: 512},
		{name: "two blocks", size: 1024},
		{name: "uneven", size: 3000},
	}

	ts := startServer(t)
	c := newClient(t, ts)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := bytes.Repeat([]byte{'t'}, tt.size)
			for i := range content {
				content[i] = byte(i % 251)
			}

			dir := t.TempDir()
			local := filepath.Join(dir, "up.bin")
			writeFile(t, local, content)

			remote := strings.ReplaceAll(tt.name, " ", "-") + ".bin"

			res, err := c.Put(context.Background(), local, remote)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), res.Bytes)
			assert.Equal(t, int64(tt.size/types.MaxPayloadSize+1), res.Blocks)

			back := filepath.Join(dir, "down.bin")

			res, err = c.Get(context.Background(), remote, back)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), res.Bytes)

			got, err := os.ReadFile(back)
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}
}

func TestNetasciiRoundTrip(t *testing.T) {
	ts := startServer(t)
	c := newClient(t, ts, client.WithMode(types.ModeNetASCII))

	content := []byte("line one\nline two\r\nlast\n")
	dir := t.TempDir()
	local := filepath.Join(dir, "text.txt")
	writeFile(t, local, content)

	res, err := c.Put(context.Background(), local, "text.txt")
	require.NoError(t, err)
	assert.Greater(t, res.Bytes, int64(len(content)))

	stored, err := os.ReadFile(filepath.Join(ts.root, "text.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	back := filepath.Join(dir, "back.txt")

	_, err = c.Get(context.Background(), "text.txt", back)
	require.NoError(t, err)

	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestConcurrentDownloads(t *testing.T) {
	ts := startServer(t)

	content := bytes.Repeat([]byte("concurrent"), 700)
	writeFile(t, filepath.Join(ts.root, "shared.bin"), content)

	dir := t.TempDir()
	errs := make(chan error, 4)

	for i := range 4 {
		go func() {
			local := filepath.Join(dir, "copy"+string(rune('a'+i)))
			_, err := client.Download(context.Background(), zaptest.NewLogger(t).Sugar(), ts.addr, "shared.bin", local)
			errs <- err
		}()
	}

	for range 4 {
		require.NoError(t, <-errs)
	}

	for i := range 4 {
		got, err := os.ReadFile(filepath.Join(dir, "copy"+string(rune('a'+i))))
		require.NoError(t, err)
		assert.Equal(t, content, got)
	}
}

type uploadSink struct {
	bytes.Buffer
	closed chan struct{}
}

func (u *uploadSink) Close() error {
	close(u.closed)

	return nil
}

func TestFileHooks(t *testing.T) {
	t.Run("generated download", func(t *testing.T) {
		var served atomic.Int32

		ts := startServer(t, func(c *server.Config) {
			c.Open = func(name string, _ net.Addr) (io.ReadCloser, error) {
				if name != "pxelinux.cfg" {
					return nil, utils.ErrFileNotFound
				}

				served.Add(1)

				return io.NopCloser(strings.NewReader("default linux\n")), nil
			}
		})
		writeFile(t, filepath.Join(ts.root, "on-disk.txt"), []byte("from disk"))

		c := newClient(t, ts)
		dir := t.TempDir()

		_, err := c.Get(context.Background(), "pxelinux.cfg", filepath.Join(dir, "cfg"))
		require.NoError(t, err)

		got, err := os.ReadFile(filepath.Join(dir, "cfg"))
		require.NoError(t, err)
		assert.Equal(t, "default linux\n", string(got))
		assert.Equal(t, int32(1), served.Load())

		_, err = c.Get(context.Background(), "on-disk.txt", filepath.Join(dir, "disk"))
		require.NoError(t, err)

		got, err = os.ReadFile(filepath.Join(dir, "disk"))
		require.NoError(t, err)
		assert.Equal(t, "from disk", string(got))
		assert.Equal(t, int32(1), served.Load())

		_, err = c.Get(context.Background(), "absent", filepath.Join(dir, "absent"))
		require.ErrorIs(t, err, utils.ErrFileNotFound)
	})

	t.Run("upload sink", func(t *testing.T) {
		sink := &uploadSink{closed: make(chan struct{})}

		ts := startServer(t, func(c *server.Config) {
			c.Create = func(name string, _ net.Addr) (io.WriteCloser, error) {
				assert.Equal(t, "logs/boot.log", name)

				return sink, nil
			}
		})

		local := filepath.Join(t.TempDir(), "boot.log")
		writeFile(t, local, []byte("booted"))

		_, err := newClient(t, ts).Put(context.Background(), local, "logs/boot.log")
		require.NoError(t, err)

		select {
		case <-sink.closed:
		case <-time.After(3 * time.Second):
			t.Fatal("upload sink was not closed")
		}

		assert.Equal(t, "booted", sink.String())

		_, err = os.Stat(filepath.Join(ts.root, "logs"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestAccessPolicy(t *testing.T) {
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret"), []byte("secret"))

	t.Run("traversal", func(t *testing.T) {
		ts := startServer(t)

		_, err := newClient(t, ts).Get(context.Background(), "../secret", filepath.Join(t.TempDir(), "secret"))
		require.ErrorIs(t, err, utils.ErrAccessViolation)
	})

	t.Run("read only", func(t *testing.T) {
		ts := startServer(t, func(c *server.Config) { c.ReadOnly = true })

		local := filepath.Join(t.TempDir(), "f")
		writeFile(t, local, []byte("x"))

		_, err := newClient(t, ts).Put(context.Background(), local, "f")
		require.ErrorIs(t, err, utils.ErrAccessViolation)
	})

	t.Run("no overwrite", func(t *testing.T) {
		ts := startServer(t, func(c *server.Config) { c.AllowOverwrite = false })
		writeFile(t, filepath.Join(ts.root, "f"), []byte("old"))

		local := filepath.Join(t.TempDir(), "f")
		writeFile(t, local, []byte("new"))

		_, err := newClient(t, ts).Put(context.Background(), local, "f")
		require.ErrorIs(t, err, utils.ErrFileExists)

		got, err := os.ReadFile(filepath.Join(ts.root, "f"))
		require.NoError(t, err)
		assert.Equal(t, []byte("old"), got)
	})

	t.Run("directory", func(t *testing.T) {
		ts := startServer(t)
		require.NoError(t, os.Mkdir(filepath.Join(ts.root, "sub"), 0o755))

		_, err := newClient(t, ts).Get(context.Background(), "sub", filepath.Join(t.TempDir(), "sub"))
		require.ErrorIs(t, err, utils.ErrAccessViolation)
	})
}

func TestRequestHandling(t *testing.T) {
	ts := startServer(t)
	writeFile(t, filepath.Join(ts.root, "hello.txt"), []byte("hello"))

	t.Run("mail mode", func(t *testing.T) {
		conn := peerSocket(t)
		send(t, conn, ts.addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "hello.txt", Mode: "mail"})

		p, _ := receive(t, conn)
		e, ok := p.(*types.Error)
		require.True(t, ok)
		assert.Equal(t, types.ErrIllegalTftpOp, e.ErrorCode)
	})

	t.Run("unknown mode", func(t *testing.T) {
		conn := peerSocket(t)
		send(t, conn, ts.addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "hello.txt", Mode: "binary"})

		p, _ := receive(t, conn)
		e, ok := p.(*types.Error)
		require.True(t, ok)
		assert.Equal(t, types.ErrIllegalTftpOp, e.ErrorCode)
	})

	t.Run("unknown transfer", func(t *testing.T) {
		conn := peerSocket(t)
		send(t, conn, ts.addr, &types.Ack{BlockNum: 1})

		p, _ := receive(t, conn)
		assert.Equal(t, types.ErrorFor(utils.ErrUnknownTransfer), p)
	})

	t.Run("ack on listening port", func(t *testing.T) {
		ts := startServer(t, func(c *server.Config) { c.Timeout = 10 * time.Second })
		writeFile(t, filepath.Join(ts.root, "two.bin"), bytes.Repeat([]byte{'t'}, 1000))

		conn := peerSocket(t)
		send(t, conn, ts.addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "two.bin", Mode: "octet"})

		p, transfer := receive(t, conn)
		data, ok := p.(*types.Data)
		require.True(t, ok)
		require.Equal(t, uint16(1), data.BlockNum)

		send(t, conn, ts.addr, &types.Ack{BlockNum: 1})

		p, from := receive(t, conn)
		assert.Equal(t, ts.addr, from.String())
		assert.Equal(t, types.ErrorFor(utils.ErrUnknownTransfer), p)

		send(t, conn, transfer.String(), &types.Ack{BlockNum: 1})

		p, from = receive(t, conn)
		assert.Equal(t, transfer.String(), from.String())
		assert.Equal(t, &types.Data{BlockNum: 2, Payload: bytes.Repeat([]byte{'t'}, 488)}, p)

		send(t, conn, transfer.String(), &types.Ack{BlockNum: 2})
	})

	t.Run("malformed then valid", func(t *testing.T) {
		conn := peerSocket(t)

		addr, err := net.ResolveUDPAddr("udp", ts.addr)
		require.NoError(t, err)

		_, err = conn.WriteTo([]byte{0, 9, 1}, addr)
		require.NoError(t, err)

		send(t, conn, ts.addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "/hello.txt", Mode: "OCTET"})

		p, from := receive(t, conn)
		assert.Equal(t, &types.Data{BlockNum: 1, Payload: []byte("hello")}, p)
		assert.NotEqual(t, ts.addr, from.String())

		send(t, conn, from.String(), &types.Ack{BlockNum: 1})
	})
}

func TestSessionStartedCarriesContentType(t *testing.T) {
	ts := startServer(t)
	ch, unsubscribe := ts.bus.Subscribe(64)
	defer unsubscribe()

	writeFile(t, filepath.Join(ts.root, "notes.txt"), []byte("plain text notes\n"))

	_, err := newClient(t, ts).Get(context.Background(), "notes.txt", filepath.Join(t.TempDir(), "notes.txt"))
	require.NoError(t, err)

	started := nextEvent(t, ch, events.SessionStarted)
	assert.True(t, strings.HasPrefix(started.ContentType, "text/plain"), started.ContentType)
	assert.Equal(t, "upload", started.Direction)
}

func TestUnacknowledgedTransferTimesOut(t *testing.T) {
	ts := startServer(t, func(c *server.Config) {
		c.Timeout = 20 * time.Millisecond
		c.NumTries = 3
	})

	ch, unsubscribe := ts.bus.Subscribe(64)
	defer unsubscribe()

	writeFile(t, filepath.Join(ts.root, "slow.bin"), []byte("never acknowledged"))

	conn := peerSocket(t)
	send(t, conn, ts.addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "slow.bin", Mode: "octet"})

	for range 3 {
		p, _ := receive(t, conn)
		require.IsType(t, &types.Data{}, p)
	}

	p, _ := receive(t, conn)
	e, ok := p.(*types.Error)
	require.True(t, ok)
	assert.Equal(t, "transfer timed out", e.ErrMsg)

	failed := nextEvent(t, ch, events.SessionFailed)
	assert.ErrorIs(t, failed.Err, utils.ErrTimeout)
}

func TestCloseAbortsRunningTransfers(t *testing.T) {
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "big.bin"), bytes.Repeat([]byte{'b'}, 4096))

	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = "0"
	cfg.Root = root
	cfg.Events = bus

	srv, err := server.NewServer(zaptest.NewLogger(t).Sugar(), cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	addr := srv.Addr().String()

	conn := peerSocket(t)
	send(t, conn, addr, &types.Request{Opcode: types.OpCodeRRQ, Filename: "big.bin", Mode: "octet"})

	p, _ := receive(t, conn)
	require.IsType(t, &types.Data{}, p)

	require.NoError(t, srv.Close())

	for {
		p, _ = receive(t, conn)
		if e, ok := p.(*types.Error); ok {
			assert.Equal(t, "transfer aborted", e.ErrMsg)

			break
		}
	}

	failed := nextEvent(t, ch, events.SessionFailed)
	assert.ErrorIs(t, failed.Err, utils.ErrAborted)

	assert.ErrorIs(t, srv.ListenAndServe(), utils.ErrServerClosed)
	assert.NoError(t, srv.Close())
}

func TestShutdownWaitsForTransfers(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f.bin"), []byte("payload"))

	cfg := server.DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = "0"
	cfg.Root = root

	srv, err := server.NewServer(zaptest.NewLogger(t).Sugar(), cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	_, err = client.Download(context.Background(), zaptest.NewLogger(t).Sugar(), srv.Addr().String(), "f.bin",
		filepath.Join(t.TempDir(), "f.bin"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, srv.Shutdown(ctx))
}

func TestNewServerNeedsDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	writeFile(t, file, nil)

	for _, root := range []string{file, filepath.Join(t.TempDir(), "absent")} {
		cfg := server.DefaultConfig()
		cfg.Root = root

		_, err := server.NewServer(zaptest.NewLogger(t).Sugar(), cfg)
		require.ErrorIs(t, err, utils.ErrStartingServer)
	}
}
