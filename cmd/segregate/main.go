// Command segregate screens a user request with the sentry vault and, when
// the input is clean, interprets it with the parser ensemble. It prints a
// JSON report on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/config"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/quarantine/pulse"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/diagnostics"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/ensemble"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/telemetry"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/vault"
)

const budgetMapName = "segregate-budgets"

// Exit codes reported to the shell.
const (
	exitOK       = 0
	exitError    = 1
	exitPoisoned = 2
	exitRejected = 3
)

type (
	options struct {
		configPath string
		input      string
		userID     string
		sessionID  string
		status     bool
		quarantine string
		release    string
		debug      bool
	}

	report struct {
		RequestID string            `json:"request_id"`
		Vault     *vault.Result     `json:"vault,omitempty"`
		Rejected  string            `json:"rejected,omitempty"`
		Selected  *backend.Outcome  `json:"selected,omitempty"`
		Parsers   *ensemble.Outcome `json:"parsers,omitempty"`
		Failures  []failure         `json:"failures,omitempty"`
	}

	failure struct {
		Backend string `json:"backend"`
		Error   string `json:"error"`
	}
)

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "Path to the YAML configuration (defaults are used when empty)")
	flag.StringVar(&o.input, "input", "", "Request to screen and parse (read from stdin when empty)")
	flag.StringVar(&o.userID, "user", "cli", "Caller identity")
	flag.StringVar(&o.sessionID, "session", "", "Session identifier")
	flag.BoolVar(&o.status, "status", false, "Print the vault status and exit")
	flag.StringVar(&o.quarantine, "quarantine", "", "Quarantine the named sentry before processing")
	flag.StringVar(&o.release, "release", "", "Release the named sentry before processing")
	flag.BoolVar(&o.debug, "debug", false, "Enable debug logs")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format), log.WithOutput(os.Stderr))
	if o.debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, o, os.Stdin, os.Stdout)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "segregate failed"})
	}
	stop()
	os.Exit(code)
}

func run(ctx context.Context, o options, stdin io.Reader, stdout io.Writer) (int, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return exitError, err
	}
	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewOtelMetrics()
	tracer := telemetry.NewOtelTracer()

	var (
		buildOpts []config.BuildOption
		vaultOpts = []vault.Option{vault.WithLogger(logger), vault.WithMetrics(metrics), vault.WithTracer(tracer)}
		repl      *pulse.Replicator
	)
	if cfg.Cluster.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Cluster.RedisAddr, Password: cfg.Cluster.RedisPassword})
		defer func() { _ = rdb.Close() }()
		budgets, err := rmap.Join(ctx, budgetMapName, rdb)
		if err != nil {
			return exitError, fmt.Errorf("join budget map: %w", err)
		}
		defer budgets.Close()
		buildOpts = append(buildOpts, config.WithSharedBudgets(budgets))

		repl, err = pulse.Join(ctx, cfg.Cluster.MapName, rdb, pulse.WithNodeID(cfg.Cluster.NodeID), pulse.WithLogger(logger))
		if err != nil {
			return exitError, err
		}
		defer repl.Close()
		vaultOpts = append(vaultOpts, vault.WithReplicator(repl))
	}

	builder := config.NewBuilder(cfg, buildOpts...)
	sentries, sentryOpts, err := builder.Sentries(ctx)
	if err != nil {
		return exitError, err
	}
	parsers, parserOpts, err := builder.Parsers(ctx)
	if err != nil {
		return exitError, err
	}
	vaultOpts = append(vaultOpts,
		vault.WithProber(diagnostics.NewCanaryProber(sentries)),
		vault.WithEnsembleOptions(sentryOpts...),
	)
	v, err := vault.New(sentries, cfg.Vault.Policy(), vaultOpts...)
	if err != nil {
		return exitError, err
	}
	if repl != nil {
		rctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := repl.Run(rctx, v); err != nil {
				log.Error(ctx, err, log.KV{K: "msg", V: "quarantine replication stopped"})
			}
		}()
	}
	if cfg.Vault.MonitorInterval > 0 {
		if err := v.StartMonitor(ctx, cfg.Vault.MonitorInterval); err != nil {
			return exitError, err
		}
		defer v.StopMonitor()
	}

	if o.quarantine != "" {
		if err := v.Quarantine(ctx, o.quarantine); err != nil {
			return exitError, err
		}
	}
	if o.release != "" {
		if err := v.Release(ctx, o.release); err != nil {
			return exitError, err
		}
	}
	if o.status {
		return exitOK, writeJSON(stdout, v.Status())
	}

	input := o.input
	if input == "" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return exitError, fmt.Errorf("read input: %w", err)
		}
		input = strings.TrimSpace(string(b))
	}
	if input == "" {
		return exitError, errors.New("no input: use -input or pipe a request on stdin")
	}

	parserOpts = append(parserOpts,
		ensemble.WithLogger(logger), ensemble.WithMetrics(metrics), ensemble.WithTracer(tracer))
	rep, code, err := screenAndParse(ctx, v, ensemble.New(parsers, parserOpts...), cfg.Ensemble.Priority,
		backend.NewRequest(input, o.userID, o.sessionID))
	if err != nil {
		return code, err
	}
	return code, writeJSON(stdout, rep)
}

// screenAndParse runs the vault gate and, for clean input, the parser
// ensemble.
func screenAndParse(ctx context.Context, v *vault.Vault, parsers *ensemble.Ensemble, priority []string, req backend.Request) (*report, int, error) {
	rep := &report{RequestID: req.RequestID}
	res, err := v.TestInput(ctx, req)
	if err != nil {
		if errors.Is(err, backend.ErrAdmission) {
			rep.Rejected = err.Error()
			return rep, exitRejected, nil
		}
		return nil, exitError, err
	}
	rep.Vault = res
	if res.Poisoned {
		log.Warn(ctx, log.KV{K: "msg", V: "input rejected by sentries"}, log.KV{K: "request_id", V: req.RequestID},
			log.KV{K: "suspicious", V: res.Consensus.Suspicious}, log.KV{K: "total", V: res.Consensus.Total})
		return rep, exitPoisoned, nil
	}

	out := parsers.ParseAll(ctx, req)
	rep.Parsers = out
	for _, f := range out.Errors {
		rep.Failures = append(rep.Failures, failure{Backend: f.Backend, Error: f.Message()})
	}
	if len(priority) == 0 {
		priority = ensemble.DefaultPriority
	}
	if sel, ok := out.ByPriority(priority); ok {
		rep.Selected = sel
	} else if sel, ok := out.HighestConfidence(); ok {
		rep.Selected = sel
	}
	return rep, exitOK, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
