// Command send submits a webmention to a receiver endpoint. Useful for
// notifying a site after publishing a page that links to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type paramFlags map[string]string

func (p paramFlags) String() string { return fmt.Sprint(map[string]string(p)) }

func (p paramFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	p[key] = value
	return nil
}

func run() error {
	var (
		endpoint string
		source   string
		target   string
		params   = paramFlags{}
	)

	flag.StringVar(&endpoint, "endpoint", envOrDefault("MENTIONS_ENDPOINT", ""), "Webmention receiver endpoint (e.g. https://example.com/webmention)")
	flag.StringVar(&source, "source", "", "URL of the page containing the link")
	flag.StringVar(&target, "target", "", "URL of the page being linked to")
	flag.Var(params, "param", "Extra payload field as key=value (repeatable)")
	flag.Parse()

	if endpoint == "" {
		return fmt.Errorf("--endpoint is required (or set MENTIONS_ENDPOINT)")
	}
	if source == "" || target == "" {
		return fmt.Errorf("--source and --target are required")
	}

	form := url.Values{}
	form.Set("source", source)
	form.Set("target", target)
	for k, v := range params {
		form.Set(k, v)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	fmt.Printf("Sending webmention %s -> %s...\n", source, target)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webmention: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("receiver rejected webmention: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	fmt.Printf("Accepted: %s\n", strings.TrimSpace(string(body)))
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
