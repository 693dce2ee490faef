// Command executor runs the order executor worker over one order-insert
// event batch and prints the worker state as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/quantops/vixroll/internal/broker"
	"github.com/quantops/vixroll/internal/config"
	"github.com/quantops/vixroll/internal/event"
	"github.com/quantops/vixroll/internal/executor"
	"github.com/quantops/vixroll/internal/notify"
	"github.com/quantops/vixroll/internal/retry"
	"github.com/quantops/vixroll/internal/store"
)

type result struct {
	State string `json:"State"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	fs := flag.NewFlagSet("executor", flag.ContinueOnError)
	eventPath := fs.String("event", "", "Path to the event batch JSON (default: stdin)")
	envPath := fs.String("env", "", "Optional .env file to load")
	tuningPath := fs.String("tuning", "", "Optional tuning YAML file")
	console := fs.Bool("console", false, "Report to stdout instead of email")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := log.New(os.Stderr, "[EXECUTOR] ", log.LstdFlags)

	if *envPath != "" {
		if err := godotenv.Load(*envPath); err != nil {
			logger.Printf("Failed to load env file: %v", err)
			return emit(stdout, "ERROR")
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.LoadExecutor()
	if err != nil {
		logger.Printf("Configuration error: %v", err)
		return emit(stdout, "ERROR")
	}
	tuning, err := config.LoadTuning(*tuningPath)
	if err != nil {
		logger.Printf("Tuning error: %v", err)
		return emit(stdout, "ERROR")
	}

	batch, err := readBatch(*eventPath, stdin)
	if err != nil {
		logger.Printf("Event error: %v", err)
		return emit(stdout, "ERROR")
	}

	st, err := store.NewSQLiteStore(cfg.DBPath, store.Tables{
		Quotes:     cfg.QuotesTable,
		Securities: cfg.SecuritiesTable,
		Orders:     cfg.OrdersTable,
	}, logger)
	if err != nil {
		logger.Printf("Store error: %v", err)
		return emit(stdout, "ERROR")
	}
	defer st.Close()

	ig := broker.NewIGClient(cfg.IGURL, cfg.APIKey, cfg.Identifier, cfg.Password, logger).
		WithRateLimit(tuning.Broker.RequestsPerSecond)

	var notifier notify.Notifier
	if *console {
		notifier = notify.NewConsoleNotifier()
	} else {
		notifier = notify.NewEmailNotifier(cfg.EmailSMTP, cfg.EmailUser, cfg.EmailPassword, cfg.EmailAddress, logger)
	}

	scheduler := executor.NewScheduler(st, broker.NewCircuitBreakerBroker(ig), notifier, logger, executor.Config{
		BrokerName:   broker.NameIG,
		BatchTimeout: tuning.Executor.BatchTimeout,
		Retry: retry.Config{
			MaxRetries: tuning.Retry.MaxRetries,
			Base:       tuning.Retry.Base,
			Max:        tuning.Retry.Max,
			Factor:     2,
		},
	})

	if err := scheduler.HandleBatch(context.Background(), batch); err != nil {
		logger.Printf("Executor run failed: %v", err)
		return emit(stdout, "ERROR")
	}
	return emit(stdout, "OK")
}

func readBatch(path string, stdin io.Reader) (*event.Batch, error) {
	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path) // #nosec G304 -- path is a user-provided event file
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("reading event batch: %w", err)
	}
	return event.Parse(data)
}

func emit(w io.Writer, state string) int {
	data, _ := json.Marshal(result{State: state})
	fmt.Fprintln(w, string(data))
	if state != "OK" {
		return 1
	}
	return 0
}
