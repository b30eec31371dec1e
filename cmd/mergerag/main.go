// Command mergerag answers questions over one or more document corpora.
//
//	mergerag [-config path] [query] "<question>"
//	mergerag [-config path] serve
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nevindra/mergerag"
	"github.com/nevindra/mergerag/internal/api"
	"github.com/nevindra/mergerag/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type command struct {
	name       string // "query" or "serve"
	query      string
	configPath string
}

func parseArgs(args []string, stderr io.Writer) (command, error) {
	fs := flag.NewFlagSet("mergerag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cmd := command{name: "query"}
	fs.StringVar(&cmd.configPath, "config", os.Getenv("MERGERAG_CONFIG"), "path to mergerag.toml")
	if err := fs.Parse(args); err != nil {
		return cmd, err
	}

	rest := fs.Args()
	if len(rest) > 0 && (rest[0] == "query" || rest[0] == "serve") {
		cmd.name, rest = rest[0], rest[1:]
	}
	switch cmd.name {
	case "serve":
		if len(rest) > 0 {
			return cmd, fmt.Errorf("serve takes no arguments, got %q", strings.Join(rest, " "))
		}
	case "query":
		cmd.query = strings.TrimSpace(strings.Join(rest, " "))
		if cmd.query == "" {
			return cmd, errors.New("usage: mergerag [-config path] [query] \"<question>\" | serve")
		}
	}
	return cmd, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd, err := parseArgs(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return 2
	}

	cfg, err := config.Load(cmd.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "invalid configuration:\n%v\n", err)
		return 1
	}

	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: levelOf(cfg.LogLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, shutdown, err := setup(ctx, cfg, log)
	defer shutdown()
	if err != nil {
		log.Error("startup failed", "error", err)
		return 1
	}

	if cmd.name == "serve" {
		if err := serve(ctx, cfg.Server, rt, log); err != nil {
			log.Error("server error", "error", err)
			return 1
		}
		return 0
	}

	resp, err := rt.Route(ctx, cmd.query)
	if err != nil {
		if errors.Is(err, mergerag.ErrNoApplicableCorpus) {
			fmt.Fprintln(stderr, "no corpus matches this question")
		} else {
			log.Error("query failed", "error", err)
		}
		return 1
	}
	printResponse(stdout, resp)
	for _, f := range resp.Failed {
		log.Warn("corpus did not answer", "corpus", f.CorpusID, "error", f.Err)
	}
	return 0
}

func serve(ctx context.Context, cfg config.ServerConfig, q api.QueryRouter, log *slog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewServer(q, log, cfg.AuthToken),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr, "corpora", q.Table().Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// printResponse writes the answer followed by the nodes each corpus used.
func printResponse(w io.Writer, resp mergerag.Response) {
	fmt.Fprintln(w, strings.TrimSpace(resp.Text))
	if len(resp.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for _, src := range resp.Sources {
		fmt.Fprintf(w, "  [%s]\n", src.CorpusID)
		for _, sn := range src.Nodes {
			fmt.Fprintf(w, "    %.3f  %s  %s\n", sn.Score, sn.Node.ID, preview(sn.Node.Text, 72))
		}
	}
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
