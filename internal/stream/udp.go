package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/lanegate/lanegate/internal/dispatch"
	"github.com/lanegate/lanegate/internal/logger"
	"github.com/lanegate/lanegate/internal/metrics"
	"github.com/lanegate/lanegate/internal/model"
)

const (
	udpBufferSize = 8 * 1024
	sweepInterval = time.Second
)

// relayConn is the transport side of one UDP session: the upstream socket
// and the goroutine pumping return traffic to the client. Routing state
// (which backend, TTL bookkeeping) lives in the dispatcher's registry, not
// here; the relay follows its decisions.
type relayConn struct {
	backend  model.Backend
	upstream *net.UDPConn
}

// UDPServer relays datagrams between clients and backends, one upstream
// socket per live pseudo-connection.
type UDPServer struct {
	Server     model.StreamServer
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Log        logger.Logger

	mu     sync.Mutex
	relays map[netip.AddrPort]*relayConn
}

// Run listens on the configured port and serves until ctx is done.
func (s *UDPServer) Run(ctx context.Context) error {
	addr := &net.UDPAddr{Port: int(s.Server.Port)}
	pc, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp listen %q: %w", s.Server.Name, err)
	}
	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()
	s.Log.Info("udp server listening",
		logger.String("server", s.Server.Name),
		logger.Uint16("port", s.Server.Port),
		logger.Duration("ttl", s.Server.TTL))
	return s.Serve(ctx, pc)
}

// Serve reads from pc until it is closed. It also owns the expiry sweep for
// this server's sessions, ticking once a second like the idle reaper the
// registry expects.
func (s *UDPServer) Serve(ctx context.Context, pc *net.UDPConn) error {
	s.mu.Lock()
	if s.relays == nil {
		s.relays = make(map[netip.AddrPort]*relayConn)
	}
	s.mu.Unlock()

	go s.sweep(ctx)

	buf := make([]byte, udpBufferSize)
	for {
		n, src, err := pc.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAll()
				return nil
			}
			return fmt.Errorf("udp read %q: %w", s.Server.Name, err)
		}

		dec, err := s.Dispatcher.RouteUDP(s.Server.Name, src)
		if err != nil {
			// unroutable packets are dropped
			s.Log.Debug("udp packet dropped",
				logger.String("server", s.Server.Name),
				logger.Error(err))
			continue
		}

		rc, err := s.relayFor(pc, src, dec.Backend)
		if err != nil {
			s.Log.Error("udp relay setup failed",
				logger.String("backend", dec.Backend.Addr()),
				logger.Error(err))
			continue
		}
		if _, err := rc.upstream.Write(buf[:n]); err != nil {
			s.Log.Warn("udp relay write failed",
				logger.String("backend", dec.Backend.Addr()),
				logger.Error(err))
			s.dropRelay(src, rc)
		}
	}
}

// relayFor returns the relay for src, creating one when the source is new or
// its session was reassigned to a different backend after expiry.
func (s *UDPServer) relayFor(pc *net.UDPConn, src netip.AddrPort, backend model.Backend) (*relayConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rc, ok := s.relays[src]; ok {
		if rc.backend == backend {
			return rc, nil
		}
		_ = rc.upstream.Close()
		delete(s.relays, src)
	}

	raddr, err := net.ResolveUDPAddr("udp", backend.Addr())
	if err != nil {
		return nil, err
	}
	upstream, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	rc := &relayConn{backend: backend, upstream: upstream}
	s.relays[src] = rc
	go s.pumpReturn(pc, src, rc)
	return rc, nil
}

// pumpReturn copies backend responses to the client. The read deadline rides
// the session TTL so an idle relay releases its socket shortly after the
// registry would have expired the session.
func (s *UDPServer) pumpReturn(pc *net.UDPConn, src netip.AddrPort, rc *relayConn) {
	defer s.dropRelay(src, rc)

	buf := make([]byte, udpBufferSize)
	for {
		_ = rc.upstream.SetReadDeadline(time.Now().Add(s.Server.TTL))
		n, err := rc.upstream.Read(buf)
		if err != nil {
			return
		}
		if _, err := pc.WriteToUDPAddrPort(buf[:n], src); err != nil {
			return
		}
	}
}

func (s *UDPServer) dropRelay(src netip.AddrPort, rc *relayConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.relays[src]; ok && cur == rc {
		_ = rc.upstream.Close()
		delete(s.relays, src)
	}
}

func (s *UDPServer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for src, rc := range s.relays {
		_ = rc.upstream.Close()
		delete(s.relays, src)
	}
}

func (s *UDPServer) sweep(ctx context.Context) {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Dispatcher.ExpireIdle(now); n > 0 {
				if s.Metrics != nil {
					s.Metrics.SessionsExpired.Add(float64(n))
				}
				s.Log.Debug("udp sessions expired",
					logger.String("server", s.Server.Name),
					logger.Int("count", n))
			}
		}
	}
}
