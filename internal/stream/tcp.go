// Package stream is the L4 data plane: TCP and UDP listeners that forward
// traffic according to dispatcher decisions.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/lanegate/lanegate/internal/dispatch"
	"github.com/lanegate/lanegate/internal/logger"
	"github.com/lanegate/lanegate/internal/metrics"
	"github.com/lanegate/lanegate/internal/model"
)

const dialTimeout = 5 * time.Second

// TCPServer proxies accepted connections to a backend chosen once per
// connection and held for its lifetime.
type TCPServer struct {
	Server     model.StreamServer
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Log        logger.Logger
}

// Run listens on the configured port and serves until ctx is done.
func (s *TCPServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Server.Port))
	if err != nil {
		return fmt.Errorf("tcp listen %q: %w", s.Server.Name, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	s.Log.Info("tcp server listening",
		logger.String("server", s.Server.Name),
		logger.Uint16("port", s.Server.Port))
	return s.Serve(ctx, ln)
}

// Serve accepts from ln until it is closed.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp accept %q: %w", s.Server.Name, err)
		}
		go s.handle(conn)
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	dec, err := s.Dispatcher.RouteTCP(s.Server.Name)
	if err != nil {
		s.Log.Warn("tcp dispatch failed",
			logger.String("server", s.Server.Name),
			logger.Error(err))
		return
	}

	upstream, err := net.DialTimeout("tcp", dec.Backend.Addr(), dialTimeout)
	if err != nil {
		s.Log.Error("tcp dial upstream failed",
			logger.String("backend", dec.Backend.Addr()),
			logger.Error(err))
		return
	}
	defer func() { _ = upstream.Close() }()

	if s.Metrics != nil {
		s.Metrics.TCPConnsActive.WithLabelValues(s.Server.Name).Inc()
		defer s.Metrics.TCPConnsActive.WithLabelValues(s.Server.Name).Dec()
	}

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(upstream, conn)
		if c, ok := upstream.(*net.TCPConn); ok {
			_ = c.CloseWrite()
		}
		close(done)
	}()

	_, _ = io.Copy(conn, upstream)
	if c, ok := conn.(*net.TCPConn); ok {
		_ = c.CloseWrite()
	}
	<-done
}
