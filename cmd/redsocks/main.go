// Command redsocks runs the transparent TCP-to-proxy redirector: it
// loads a TOML configuration file, starts one Instance per configured
// [[redsocks]] block plus any [[dnstc]] blocks, and serves until asked
// to stop.
//
// Grounded on the teacher repo's cmd/main.go cobra root-command wiring.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "redsocks",
		Short: "Transparent TCP-to-proxy redirector",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newSetupNftCmd())
	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInitFailure)
	}
}

// Exit codes (spec §6, "0 on clean shutdown; nonzero on initialization
// failure or fatal runtime error").
const (
	exitClean        = 0
	exitInitFailure  = 2
	exitRuntimeError = 1
)
