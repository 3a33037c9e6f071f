package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/mindbound/mcplite"
	"github.com/mindbound/mcplite/mcptest"
)

type config struct {
	Addr           string        `env:"CALCULATOR_ADDR,default=localhost:8080"`
	RequestTimeout time.Duration `env:"CALCULATOR_REQUEST_TIMEOUT,default=10s"`
}

func main() {
	var cfg config
	if err := envdecode.Decode(&cfg); err != nil {
		log.Fatalf("Failed to decode config: %v", err)
	}

	srv := mcptest.NewServer(mcptest.Config{
		Info:         mcplite.Info{Name: "calculator", Version: "0.1.0"},
		Instructions: "Call the add tool with two numbers.",
		Tools: []mcplite.Tool{
			{
				Name:        "add",
				Description: "Adds two numbers",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`),
			},
		},
		CallResults: map[string]*mcplite.CallToolResult{
			"add": {Content: []mcplite.Content{{Type: mcplite.ContentTypeText, Text: "3"}}},
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/sse", srv.HandleSSE())
	mux.Handle("/message", srv.HandleMessage())

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	go func() {
		fmt.Printf("Server starting on %s\n", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for the server to start
	time.Sleep(time.Second)

	run(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		fmt.Printf("Server forced to shutdown: %v\n", err)
		return
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg config) {
	transport := mcplite.NewSSEClient(fmt.Sprintf("http://%s/sse", cfg.Addr), http.DefaultClient)
	cli := mcplite.NewClient(
		mcplite.Info{Name: "calculator-client", Version: "0.1.0"},
		transport,
		mcplite.WithRequestTimeout(cfg.RequestTimeout),
	)

	cli.On(mcplite.EventProgress, func(ev mcplite.Event) {
		progress := ev.(mcplite.ProgressEvent)
		fmt.Printf("Progress: %.1f of %.1f\n", progress.Params.Progress, progress.Params.Total)
	})
	cli.On(mcplite.EventDisconnect, func(mcplite.Event) {
		fmt.Println("Disconnected")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := cli.Connect(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer cli.Disconnect()

	info := cli.ServerInfo()
	fmt.Printf("Connected to %s %s\n", info.Name, info.Version)
	if instructions := cli.Instructions(); instructions != "" {
		fmt.Printf("Instructions: %s\n", instructions)
	}

	tools, err := cli.ListTools(ctx)
	if err != nil {
		log.Fatalf("Failed to list tools: %v", err)
	}
	for _, tool := range tools {
		fmt.Printf("Tool: %s: %s\n", tool.Name, tool.Description)
	}

	result, err := cli.CallTool(ctx, "add", map[string]int{"a": 1, "b": 2}, mcplite.WithProgress())
	if err != nil {
		log.Fatalf("Failed to call tool: %v", err)
	}
	for _, content := range result.Content {
		fmt.Printf("1 + 2 = %s\n", content.Text)
	}
}
