// cmd/pipectl/main.go

// pipectl drives pipelines from the command line, either in-process against
// the downstream services or through a running orchestrator.
//
// Usage:
//
//	pipectl run -f pipeline.yaml                 # execute in-process and print the final record
//	pipectl submit -f pipeline.yaml -wait        # submit to the orchestrator and follow it
//	pipectl status <execution-id>
//	pipectl list
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/tendant/ml-orchestrator/internal/engine"
	"github.com/tendant/ml-orchestrator/internal/poller"
	"github.com/tendant/ml-orchestrator/internal/stages"
	"github.com/tendant/ml-orchestrator/internal/store"
	"github.com/tendant/ml-orchestrator/pkg/schema"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: pipectl <run|submit|status|list> [flags]")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	var err error
	switch args[0] {
	case "run":
		err = cmdRun(ctx, args[1:], stdout, stderr)
	case "submit":
		err = cmdSubmit(ctx, args[1:], stdout, stderr)
	case "status":
		err = cmdStatus(ctx, args[1:], stdout, stderr)
	case "list":
		err = cmdList(ctx, args[1:], stdout, stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return 0
	default:
		usage(stderr)
		return 2
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.Is(err, errPipelineFailed):
		return 1
	default:
		fmt.Fprintf(stderr, "pipectl %s: %v\n", args[0], err)
		return 1
	}
}

var errPipelineFailed = errors.New("pipeline failed")

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "Pipeline definition file, YAML or JSON (- for stdin)")
	preparer := fs.String("data-preparer", getenv("DATA_PREPARER_URL", "http://localhost:8000"), "Data preparer base URL")
	selector := fs.String("model-selector", getenv("MODEL_SELECTOR_URL", "http://localhost:8001/api/v1"), "Model selector base URL")
	trainer := fs.String("trainer", getenv("TRAINER_URL", "http://localhost:8002/api/v1"), "Trainer base URL")
	evaluator := fs.String("evaluator", getenv("EVALUATOR_URL", "http://localhost:8003/api/v1"), "Evaluator base URL")
	interval := fs.Duration("poll-interval", poller.DefaultInterval, "Training status poll interval")
	timeout := fs.Duration("poll-timeout", poller.DefaultTimeout, "Per-model training timeout")
	verbose := fs.Bool("v", false, "Verbose output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readDefinition(*file)
	if err != nil {
		return err
	}

	logger := newLogger(stderr, *verbose)
	eng, err := engine.New(engine.Options{
		Store: store.NewMemory(store.DefaultTTL),
		Services: stages.NewClient(nil, stages.Endpoints{
			DataPreparer:  *preparer,
			ModelSelector: *selector,
			Trainer:       *trainer,
			Evaluator:     *evaluator,
		}),
		Poller: poller.New(nil, *interval, *timeout, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	id, err := eng.Start(ctx, def)
	if err != nil {
		return err
	}
	if err := eng.Wait(ctx); err != nil {
		return err
	}
	job, err := eng.Status(ctx, id)
	if err != nil {
		return err
	}
	if err := printJSON(stdout, job); err != nil {
		return err
	}
	if job.Status == schema.JobStatusFailed {
		return errPipelineFailed
	}
	return nil
}

func cmdSubmit(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.String("f", "", "Pipeline definition file, YAML or JSON (- for stdin)")
	server := fs.String("server", getenv("ORCHESTRATOR_URL", "http://localhost:3100"), "Orchestrator base URL")
	wait := fs.Bool("wait", false, "Follow the execution until it finishes")
	interval := fs.Duration("poll-interval", poller.DefaultInterval, "Status poll interval when waiting")
	timeout := fs.Duration("timeout", time.Hour, "How long to wait for the execution")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def, err := readDefinition(*file)
	if err != nil {
		return err
	}
	body, err := json.Marshal(def)
	if err != nil {
		return err
	}

	var accepted schema.ExecuteAccepted
	if err := call(ctx, http.MethodPost, strings.TrimRight(*server, "/")+"/pipeline/execute", body, &accepted); err != nil {
		return err
	}
	if !*wait {
		return printJSON(stdout, accepted)
	}
	fmt.Fprintf(stderr, "execution %s started, waiting\n", accepted.ExecutionID)

	// The orchestrator writes the record before accepting, so a miss here means
	// it is not persisting executions and there is nothing to follow.
	var job schema.Job
	if err := call(ctx, http.MethodGet, statusURL(*server, accepted.ExecutionID), nil, &job); err != nil {
		return fmt.Errorf("execution %s is not visible on %s (is the orchestrator running with STORE_BACKEND=none?): %w", accepted.ExecutionID, *server, err)
	}
	if !job.Status.Terminal() {
		p := poller.New(nil, *interval, *timeout, newLogger(stderr, false))
		job, err = poller.Poll(ctx, p, statusURL(*server, accepted.ExecutionID), func(j schema.Job) bool {
			return j.Status.Terminal()
		})
		if err != nil {
			return err
		}
	}
	if err := printJSON(stdout, job); err != nil {
		return err
	}
	if job.Status == schema.JobStatusFailed {
		return errPipelineFailed
	}
	return nil
}

func cmdStatus(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", getenv("ORCHESTRATOR_URL", "http://localhost:3100"), "Orchestrator base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one execution id")
	}

	var job schema.Job
	if err := call(ctx, http.MethodGet, statusURL(*server, fs.Arg(0)), nil, &job); err != nil {
		return err
	}
	return printJSON(stdout, job)
}

func cmdList(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	server := fs.String("server", getenv("ORCHESTRATOR_URL", "http://localhost:3100"), "Orchestrator base URL")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var list []schema.ExecutionSummary
	if err := call(ctx, http.MethodGet, strings.TrimRight(*server, "/")+"/executions", nil, &list); err != nil {
		return err
	}
	return printJSON(stdout, list)
}

func statusURL(server, id string) string {
	return strings.TrimRight(server, "/") + "/status/" + id
}

// readDefinition loads a YAML or JSON definition from path, or stdin for "-".
func readDefinition(path string) (schema.Definition, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return schema.Definition{}, errors.New("-f is required")
	case "-":
		data, err = io.ReadAll(os.Stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return schema.Definition{}, fmt.Errorf("read definition: %w", err)
	}
	def, err := schema.ParseDefinition(data)
	if err != nil {
		return schema.Definition{}, err
	}
	if err := def.Validate(); err != nil {
		return schema.Definition{}, err
	}
	return def, nil
}

func call(ctx context.Context, method, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e schema.ErrorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			if e.Details != "" {
				return fmt.Errorf("%s %s: %s (%s)", method, url, e.Error, e.Details)
			}
			return fmt.Errorf("%s %s: %s", method, url, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: time.Kitchen}))
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
