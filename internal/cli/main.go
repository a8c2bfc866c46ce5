package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/raysh454/permafind/internal/app"
	"github.com/raysh454/permafind/internal/history"
	"github.com/raysh454/permafind/internal/logging"
	"github.com/raysh454/permafind/internal/probe"
	"github.com/raysh454/permafind/internal/server"
	"github.com/raysh454/permafind/internal/webclient"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitRun   = 1
	ExitUsage = 2
)

// Env is what Main talks to. Pages defaults to a chromedp session per run.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer
	Pages  app.PageFactory
}

// Main runs one invocation and returns its exit code.
func Main(ctx context.Context, args []string, env Env) int {
	if env.Stdout == nil {
		env.Stdout = io.Discard
	}
	if env.Stderr == nil {
		env.Stderr = io.Discard
	}

	a, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
		return ExitUsage
	}
	cfg, err := a.Config()
	if err != nil {
		fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
		return ExitUsage
	}

	logger := logging.NewJSONLogger(env.Stderr, "permafind", logging.ParseLevel(cfg.LogLevel))

	var store *history.Store
	if cfg.HistoryPath != "" {
		if store, err = history.Open(cfg.HistoryPath, logger); err != nil {
			fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
			return ExitRun
		}
		defer store.Close()
	}

	if a.Command == CmdHistory {
		return listHistory(ctx, a, store, env)
	}

	fetcher, err := webclient.NewNetHTTPClient(cfg.WebClient, logger, nil)
	if err != nil {
		fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
		return ExitUsage
	}
	defer fetcher.Close()

	pages := env.Pages
	if pages == nil {
		pages = app.ChromePages(cfg.Browser, logger)
	}
	orch := app.NewOrchestrator(cfg, pages, fetcher, store, logger)

	if a.Command == CmdServe {
		return serve(ctx, cfg, orch, logger, env)
	}
	defer orch.Close()
	return runOnce(ctx, a, orch, env)
}

func runOnce(ctx context.Context, a *CLIArgs, orch *app.Orchestrator, env Env) int {
	out := env.Stdout
	if a.JSON {
		out = io.Discard
	}
	rep, err := orch.Run(ctx, "", app.RunRequest{}, out, nil)
	if a.JSON && rep != nil {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil {
			fmt.Fprintf(env.Stderr, "permafind: encode report: %v\n", encErr)
			return ExitRun
		}
	}
	if err != nil {
		// the abort message of a failed search is already part of the report
		if a.JSON || !errors.Is(err, probe.ErrBuildNotFound) {
			fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
		}
		return ExitRun
	}
	return ExitOK
}

func serve(ctx context.Context, cfg *app.Config, orch *app.Orchestrator, logger logging.Logger, env Env) int {
	srv := server.NewServer(server.Config{ListenAddr: cfg.ServerAddr, Logger: logger}, orch)
	defer srv.Close()

	hs := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	logger.Info("listening", logging.F("addr", cfg.ServerAddr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", logging.F("error", err))
		}
		return ExitOK
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return ExitOK
		}
		fmt.Fprintf(env.Stderr, "permafind: serve: %v\n", err)
		return ExitRun
	}
}

func listHistory(ctx context.Context, a *CLIArgs, store *history.Store, env Env) int {
	if store == nil {
		fmt.Fprintln(env.Stderr, "permafind: history needs -history or history_path")
		return ExitUsage
	}
	runs, err := store.List(ctx, a.Limit)
	if err != nil {
		fmt.Fprintf(env.Stderr, "permafind: %v\n", err)
		return ExitRun
	}
	if a.JSON {
		enc := json.NewEncoder(env.Stdout)
		enc.SetIndent("", "  ")
		if runs == nil {
			runs = []history.Run{}
		}
		if err := enc.Encode(runs); err != nil {
			return ExitRun
		}
		return ExitOK
	}

	tw := tabwriter.NewWriter(env.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tQUERY\tPROJECT\tRESULT")
	for _, r := range runs {
		result := "no permalink"
		switch {
		case r.Aborted:
			result = "aborted"
		case r.Permalink != "":
			result = r.Permalink
		}
		project := r.ProjectID
		if project == "" {
			project = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), r.Query, project, result)
	}
	if err := tw.Flush(); err != nil {
		return ExitRun
	}
	return ExitOK
}
