package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/histree-io/histree/pkg/mcp"
)

const defaultEndpoint = "http://127.0.0.1:8091"

func main() {
	apiURL := flag.String("api", envOr("HISTREE_ENDPOINT", defaultEndpoint), "Base URL of histree-d API")
	flag.Parse()

	// Stdout carries the MCP protocol; logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	slog.Info("starting MCP server", "api", *apiURL)

	s := mcp.NewServer(*apiURL)
	if err := s.Serve(); err != nil {
		slog.Error("MCP server exited", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
