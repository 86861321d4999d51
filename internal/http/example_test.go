package http_test

import (
	"context"
	"fmt"
	"time"

	httpserver "github.com/fyrsmithlabs/ultrathink/internal/http"
	"github.com/fyrsmithlabs/ultrathink/internal/logging"
	"github.com/fyrsmithlabs/ultrathink/internal/orchestrator"
)

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	executor := orchestrator.ExecutorFunc(func(ctx context.Context, task orchestrator.Task, _ orchestrator.Context) (orchestrator.Action, error) {
		return orchestrator.Action{Output: "echo: " + task.Prompt}, nil
	})

	o, err := orchestrator.New(orchestrator.Runtime{}, orchestrator.Collaborators{Executor: executor}, orchestrator.DefaultConfig())
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(o, logging.NewNop(), &httpserver.Config{
		Host: "localhost",
		Port: 19191,
	})
	if err != nil {
		panic(err)
	}

	go func() {
		_ = server.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		panic(err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
