// Command orderflowd runs the purchase order intake daemon: the SMTP
// listener, the per-tenant extraction workers and the ERP acknowledgement
// pollers. Operator actions (tenant management, approve, retry, reindex)
// are exposed as subcommands against the same configuration.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches the subcommand. Exposed for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(stderr)
	case "tenant":
		return runTenantCmd(args[2:], stdout, stderr)
	case "approve":
		return runApproveCmd(args[2:], stdout, stderr)
	case "retry":
		return runRetryCmd(args[2:], stdout, stderr)
	case "reindex":
		return runReindexCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if strings.HasPrefix(args[1], "-") {
			return runServe(stderr)
		}
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: orderflowd [command]

Commands:
  serve                         run the intake daemon (default)
  tenant add <slug> <name>      register a tenant
  tenant list                   list tenants
  approve -tenant <slug> <id>   approve a READY draft (optionally -push)
  retry -tenant <slug> <id>     force re-extraction of a document
  reindex -tenant <slug>        refresh product embeddings
  help                          show this help

Configuration is taken from the environment; see pkg/config.`)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
