// Command actionc compiles declarative entity actions into PL/pgSQL.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/actionc/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands print their own ExitErrors. Anything else is a usage or
	// flag error from cobra.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(cli.ExitCommandError)
}
