// Package main provides a minimal HTTP healthcheck binary for container
// probes. It performs a GET request against the testhub server and exits
// with code 0 on success (2xx) or code 1 on failure.
//
// The target defaults to http://localhost:8080/readyz and can be set with
// the TESTHUB_HEALTH_URL environment variable or a positional argument.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Parse()

	url := os.Getenv("TESTHUB_HEALTH_URL")
	if flag.NArg() > 0 {
		url = flag.Arg(0)
	}
	if url == "" {
		url = "http://localhost:8080/readyz"
	}

	client := &http.Client{Timeout: *timeout}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	os.Exit(1)
}
