// Command phasegraph lays out workflow phase graphs for the canvas editor.
//
// Usage:
//
//	phasegraph render   -in FILE | -workflow ID [-format json|mermaid|dot|svg|png] [-out FILE]
//	phasegraph validate -in FILE
//	phasegraph import   -in FILE
//	phasegraph init     [flags]
//	phasegraph serve
//	phasegraph version
package main

import (
	"fmt"
	"os"
)

const usage = `usage: phasegraph <command> [flags]

commands:
  render    build and draw a workflow graph
  validate  check a workflow document
  import    store a workflow document
  init      write ~/.phasegraph/settings.json
  serve     run the MCP server on stdio
  version   print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "render":
		err = runRender(args)
	case "validate":
		err = runValidate(args)
	case "import":
		err = runImport(args)
	case "init":
		err = runInit(args)
	case "serve":
		err = runServe(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
