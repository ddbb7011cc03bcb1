// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when gatekeeper's /health endpoint returns HTTP 200,
// and 1 otherwise. A degraded counter store still answers 200, since limits
// keep being enforced by the local fallback. Compile with CGO_ENABLED=0 for a
// fully static binary.
package main

import (
	"net/http"
	"os"
	"time"
)

func main() {
	os.Exit(probe(healthURL()))
}

// healthURL honors GATEKEEPER_PORT so the probe follows the server's port.
func healthURL() string {
	port := os.Getenv("GATEKEEPER_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + port + "/health"
}

func probe(url string) int {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
