package stream

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanegate/lanegate/internal/config"
	"github.com/lanegate/lanegate/internal/dispatch"
	"github.com/lanegate/lanegate/internal/logger"
	"github.com/lanegate/lanegate/internal/model"
)

func dispatcherFor(t *testing.T, proto, service string, backendAddr net.Addr) *dispatch.Dispatcher {
	t.Helper()
	host, port, err := net.SplitHostPort(backendAddr.String())
	require.NoError(t, err)
	yaml := fmt.Sprintf(`
stream:
  servers:
    - name: %s-in
      protocol: %s
      port: 9990
      service: %s
      time-to-live: 2s
  services:
    %s:
      protocol: %s
      backends:
        - ip: %s
          port: %s
`, proto, proto, service, service, proto, host, port)
	cfg, _, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return dispatch.New(cfg)
}

func TestTCPServer_ProxiesBothDirections(t *testing.T) {
	backend, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()
	go func() {
		for {
			c, err := backend.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer func() { _ = c.Close() }()
				buf := make([]byte, 256)
				n, _ := c.Read(buf)
				_, _ = c.Write(append([]byte("echo:"), buf[:n]...))
			}(c)
		}
	}()

	d := dispatcherFor(t, "tcp", "tcp-echo", backend.Addr())
	srv := &TCPServer{
		Server:     model.StreamServer{Name: "tcp-in", Protocol: model.ProtoTCP},
		Dispatcher: d,
		Log:        logger.Nop(),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(buf[:n]))
}

func TestUDPServer_RelaysBidirectionally(t *testing.T) {
	backend, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = backend.Close() }()
	go func() {
		buf := make([]byte, 256)
		for {
			n, addr, err := backend.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = backend.WriteToUDP(append([]byte("echo:"), buf[:n]...), addr)
		}
	}()

	d := dispatcherFor(t, "udp", "dns", backend.LocalAddr())
	srv := &UDPServer{
		Server:     model.StreamServer{Name: "udp-in", Protocol: model.ProtoUDP, TTL: 2 * time.Second},
		Dispatcher: d,
		Log:        logger.Nop(),
	}

	pc, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer func() { _ = pc.Close() }()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx, pc) }()

	client, err := net.DialUDP("udp", nil, pc.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	// two packets within TTL travel the same pseudo-connection
	for i := 0; i < 2; i++ {
		_, err = client.Write([]byte("ping"))
		require.NoError(t, err)

		require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
		buf := make([]byte, 256)
		n, err := client.Read(buf)
		require.NoError(t, err, "packet %d", i)
		assert.Equal(t, "echo:ping", string(buf[:n]))
	}
	assert.Equal(t, 1, d.Sessions())
}
