package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const (
	rejectionTimeout          = 500 * time.Millisecond
	errMaxConnectionsResponse = "ERR max number of clients reached\n"

	// Failed accepts are retried after a delay that doubles from
	// minAcceptDelay up to maxAcceptDelay.
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// serve starts the TCP server and blocks until ctx is cancelled.
func (app *application) serve(ctx context.Context) error {
	//
	// DESIGN
	// ------
	//
	// 1. CONNECTION LIMITING
	//    `connLimiter` is a buffered channel used as a semaphore. A
	//    non-blocking send is a try-acquire: when the buffer is full the
	//    connection is rejected immediately.
	//
	// 2. GRACEFUL SHUTDOWN
	//    Cancelling ctx closes the listener, which ends the accept loop.
	//    In-flight handlers are then awaited (tracked by a WaitGroup) for at
	//    most ShutdownTimeout. A timeout is not reported as an error.
	//
	// 3. ACCEPT ERRORS
	//    Any accept error other than a closed listener is logged and
	//    retried after a doubling delay capped at maxAcceptDelay.
	//
	addr := fmt.Sprintf(":%d", app.config.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	app.listener = ln

	serverAddr := ln.Addr().String()

	if app.readyCh != nil {
		close(app.readyCh)
	}

	stopped := make(chan struct{})
	defer close(stopped)

	go func() {
		select {
		case <-ctx.Done():
			app.logger.Info().Str("address", serverAddr).Msg("shutting down server")
			_ = ln.Close()
		case <-stopped:
		}
	}()

	app.logger.Info().Str("address", serverAddr).Msg("server starting")

	app.acceptLoop(ctx, ln)

	if err := app.drain(app.config.ShutdownTimeout); err != nil {
		app.logger.Warn().Err(err).Str("address", serverAddr).Msg("connections still open after shutdown timeout")
	}

	app.logger.Info().Str("address", serverAddr).Msg("server stopped")
	return nil
}

// acceptLoop hands accepted connections to handlers until ln is closed.
// Other accept errors, such as running out of file descriptors, are retried
// with a capped exponential backoff.
func (app *application) acceptLoop(ctx context.Context, ln net.Listener) {
	var delay time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			delay = acceptBackoff(delay)
			app.logger.Error().Err(err).Str("address", ln.Addr().String()).Dur("retry_in", delay).Msg("failed to accept connection")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		delay = 0

		select {
		case app.connLimiter <- struct{}{}:
			app.wg.Add(1)
			go app.handleConnection(conn)
		default:
			app.logger.Info().Str("remote_addr", conn.RemoteAddr().String()).Msg("rejecting connection, limit reached")

			// A client that never reads must not stall the accept loop.
			_ = app.writeResponse(conn, []byte(errMaxConnectionsResponse), rejectionTimeout)
			_ = conn.Close()
		}
	}
}

// acceptBackoff returns the delay to wait after a failed accept, given the
// previous delay or zero.
func acceptBackoff(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(prev*2, maxAcceptDelay)
}

// drain waits for every connection handler to return, or for timeout.
func (app *application) drain(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection manages the lifecycle of a single client connection.
func (app *application) handleConnection(conn net.Conn) {
	//
	// DESIGN
	// ------
	//
	// Responses go through a 4KB bufio.Writer. After each command the
	// writer is flushed only if the parser has no more buffered input, so a
	// pipelined batch is answered with a single write.
	//
	defer func() { <-app.connLimiter }()
	defer app.wg.Done()
	defer func() { _ = conn.Close() }()

	app.metrics.TotalConnections.Add(1)

	remoteAddr := conn.RemoteAddr().String()
	app.logger.Debug().Str("remote_addr", remoteAddr).Msg("new connection")

	parser := NewParser(conn)
	writer := bufio.NewWriterSize(conn, 4096)

	// Replies to commands already processed must reach the client even if
	// the next command fails to parse.
	defer func() { _ = writer.Flush() }()

	for {
		if app.config.IdleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(app.config.IdleTimeout)); err != nil {
				app.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("failed to set read deadline")
				return
			}
		}

		req, err := parser.Parse()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				app.logger.Debug().Str("remote_addr", remoteAddr).Msg("client disconnected")
			case errors.Is(err, os.ErrDeadlineExceeded):
				app.logger.Debug().Str("remote_addr", remoteAddr).Msg("closing idle connection")
			default:
				app.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("parser error")
				if isProtocolError(err) {
					reply(writer, errorReply(err.Error()))
				}
			}
			return
		}

		app.router.Dispatch(app, writer, req)

		if parser.Buffered() == 0 {
			if err := writer.Flush(); err != nil {
				app.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("failed to flush response")
				return
			}
		}
	}
}

// writeResponse writes data directly to conn, bypassing the buffered writer.
func (app *application) writeResponse(conn net.Conn, data []byte, timeout time.Duration) error {
	remoteAddr := conn.RemoteAddr().String()

	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		app.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("failed to set write deadline")
		return err
	}

	if _, err := conn.Write(data); err != nil {
		app.logger.Error().Err(err).Str("remote_addr", remoteAddr).Msg("failed to write response")
		return err
	}
	return nil
}
