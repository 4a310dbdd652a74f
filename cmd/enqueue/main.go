// Package main implements a small producer-side utility that creates a
// job record from a JSON payload and enqueues it. The payload is read
// from a file argument or stdin; selected top-level string fields can be
// encrypted before the record is written.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mailsift/mailsift/internal/codec"
	"github.com/mailsift/mailsift/internal/config"
	"github.com/mailsift/mailsift/internal/domain"
	"github.com/mailsift/mailsift/internal/platform/queuedir"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config.yaml (default: search working directory)")
	workingDir := fs.String("working-dir", "", "working directory for the analyzer subprocess")
	timeout := fs.Int("timeout", 0, "timeout in seconds for this job (0 = none)")
	encrypt := fs.String("encrypt", "", "comma-separated payload fields to encrypt")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.LoadWithFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 2
	}

	payload, err := readPayload(fs.Args(), stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read payload: %v\n", err)
		return 2
	}

	data, err := buildData(payload, *encrypt, codec.New(cfg.Codec.Secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build payload: %v\n", err)
		return 2
	}

	var timeoutSeconds *int
	if *timeout > 0 {
		timeoutSeconds = timeout
	}

	record, err := domain.NewJobRecord(*workingDir, timeoutSeconds, nil, data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create job record: %v\n", err)
		return 2
	}

	jobStore, err := queuedir.New(cfg.Queue.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open queue: %v\n", err)
		return 2
	}

	if err := jobStore.Enqueue(context.Background(), record); err != nil {
		fmt.Fprintf(os.Stderr, "failed to enqueue job: %v\n", err)
		return 2
	}

	fmt.Fprintln(stdout, record.Config.JobID)
	return 0
}

// readPayload reads the payload JSON object from the file argument, or
// stdin when no argument is given.
func readPayload(args []string, stdin io.Reader) (map[string]json.RawMessage, error) {
	var raw []byte
	var err error

	switch len(args) {
	case 0:
		raw, err = io.ReadAll(stdin)
	case 1:
		raw, err = os.ReadFile(args[0])
	default:
		return nil, fmt.Errorf("expected at most one payload file argument, got %d", len(args))
	}
	if err != nil {
		return nil, err
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return payload, nil
}

// buildData wraps payload values for the record, encrypting the requested
// fields. Only string fields can be encrypted.
func buildData(
	payload map[string]json.RawMessage,
	encryptList string,
	c *codec.Codec,
) (map[string]domain.PayloadValue, error) {
	toEncrypt := map[string]bool{}
	for _, field := range strings.Split(encryptList, ",") {
		if field = strings.TrimSpace(field); field != "" {
			toEncrypt[field] = true
		}
	}

	data := make(map[string]domain.PayloadValue, len(payload))
	for key, raw := range payload {
		if !toEncrypt[key] {
			data[key] = domain.PlainValue(raw)
			continue
		}

		var plaintext string
		if err := json.Unmarshal(raw, &plaintext); err != nil {
			return nil, fmt.Errorf("field %q: only string fields can be encrypted: %w", key, err)
		}

		field, err := c.Encrypt(plaintext)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		data[key] = domain.EncryptedValue(field)
		delete(toEncrypt, key)
	}

	for key := range toEncrypt {
		return nil, fmt.Errorf("field %q requested for encryption but not present in payload", key)
	}

	return data, nil
}
