// Command daemondb is a thin driver over the storage core: it wires an
// engine.Engine and exposes a handful of subcommands for exercising it
// directly, without a SQL front end. Query execution and a full SQL VM
// are explicitly out of core scope; seed only speaks a tiny fixed script
// through the kept query_parser lexer/parser to turn statement text into
// catalog/table/index calls.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
