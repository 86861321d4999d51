package events

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// StartEmbedded runs an in-process NATS server on host with a random
// port. Stop it with Shutdown followed by WaitForShutdown.
func StartEmbedded(host string) (*natsserver.Server, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:           host,
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	})
	if err != nil {
		return nil, fmt.Errorf("events: creating embedded server: %w", err)
	}

	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("events: embedded server not ready")
	}
	return srv, nil
}
