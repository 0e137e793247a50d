// Command crux-echo-server accepts CRUX connections on a local UDP endpoint
// and echoes back every datagram it receives on each one.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/thejerf/suture/v4"
	_ "go.uber.org/automaxprocs"

	"crux-go/pkg/crux"
	"crux-go/pkg/logger"
)

const version = "0.1.0"

type cli struct {
	Listen string `help:"Local UDP address to accept connections on." default:"127.0.0.1:9100"`
	Debug  bool   `help:"Enable debug-level logging."`
}

// echoSession is a suture.Service: it owns one established connection and
// echoes every payload it receives back to the sender until the connection
// dies or the supervisor asks it to stop.
type echoSession struct {
	conn *crux.Connection
}

func (s *echoSession) Serve(ctx context.Context) error {
	defer s.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return suture.ErrDoNotRestart
		default:
		}
		payload, err := s.conn.Receive()
		if err != nil {
			logger.Debug("session ended: %v", err)
			return suture.ErrDoNotRestart
		}
		if err := s.conn.Send(payload); err != nil {
			logger.Warn("echo send failed: %v", err)
			return suture.ErrDoNotRestart
		}
	}
}

// acceptLoop is itself a suture.Service: it repeatedly accepts new
// connections and hands each to the supervisor as its own echoSession.
type acceptLoop struct {
	acceptor   *crux.Acceptor
	service    *crux.Service
	supervisor *suture.Supervisor
}

func (a *acceptLoop) Serve(ctx context.Context) error {
	for {
		conn, err := a.acceptor.AcceptNew()
		if err != nil {
			if ctx.Err() != nil {
				return suture.ErrDoNotRestart
			}
			logger.Warn("accept failed: %v", err)
			continue
		}
		logger.Info("accepted connection")
		a.supervisor.Add(&echoSession{conn: conn})
	}
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Echo every datagram received on each accepted CRUX connection."))

	if c.Debug {
		logger.SetLevel("debug")
	}
	logger.Banner("crux-echo-server", version)

	svc := crux.NewService()
	acc, err := crux.NewAcceptor(svc, c.Listen)
	if err != nil {
		logger.Fatal("bind %s: %v", c.Listen, err)
	}
	defer acc.Close()
	logger.Success("listening on %s", acc.LocalAddr())

	super := suture.NewSimple("crux-echo-server")
	super.Add(&acceptLoop{acceptor: acc, service: svc, supervisor: super})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := super.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("supervisor exited: %v", err)
		}
	}
}
