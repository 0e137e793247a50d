// Command crux-echo-client dials a crux-echo-server, sends a fixed number of
// messages, and prints back whatever each one echoes.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	_ "go.uber.org/automaxprocs"

	"crux-go/pkg/crux"
	"crux-go/pkg/logger"
)

const version = "0.1.0"

type cli struct {
	Server string   `arg:"" help:"Remote address of the echo server." default:"127.0.0.1:9100"`
	Count  int      `help:"Number of messages to send." default:"4"`
	Debug  bool     `help:"Enable debug-level logging."`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Send messages to a crux-echo-server and print the echoes."))

	if c.Debug {
		logger.SetLevel("debug")
	}
	logger.Banner("crux-echo-client", version)

	svc := crux.NewService()
	conn, err := svc.Dial("127.0.0.1:0", c.Server)
	if err != nil {
		logger.Fatal("dial %s: %v", c.Server, err)
	}
	defer conn.Close()
	logger.Success("connected to %s", c.Server)

	for i := 0; i < c.Count; i++ {
		msg := []byte(fmt.Sprintf("message-%d", i))
		if err := conn.Send(msg); err != nil {
			logger.Error("send failed: %v", err)
			return
		}
		echoed, err := conn.Receive()
		if err != nil {
			logger.Error("receive failed: %v", err)
			return
		}
		logger.Info("echoed: %s", string(echoed))
	}
}
