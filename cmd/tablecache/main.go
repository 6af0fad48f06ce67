// Package main provides the tablecache CLI: a reference server and a
// client for inspecting and editing its tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(args)
	resetContext(ctx, rootCmd.Commands())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "tablecache:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// resetContext hands ctx to every subcommand. Cobra only passes the root
// context down to commands that have none, so a second run would otherwise
// keep the first run's cancelled one.
func resetContext(ctx context.Context, cmds []*cobra.Command) {
	for _, c := range cmds {
		c.SetContext(ctx)
		resetContext(ctx, c.Commands())
	}
}

// exitCode maps an error to an exit code. Bad input, unknown tables or
// records, and requests the server rejected are the user's; everything else
// is the system's.
func exitCode(err error) int {
	var (
		ue usageError
		re *types.RemoteError
	)
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &re):
		if re.StatusCode < 500 {
			return exitUserError
		}
		return exitSysError
	case errors.As(err, &ue),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, types.ErrNotFound):
		return exitUserError
	default:
		return exitSysError
	}
}

// usageError marks malformed arguments.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}
