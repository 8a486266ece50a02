// Command acervo is the entry point for the acervo document retrieval
// engine. It indexes institutional documents into a hybrid vector/keyword
// store and answers natural-language queries, either one-shot from the CLI
// or over HTTP for an external conversational layer.
package main

import (
	"fmt"
	"os"

	"github.com/acervolabs/acervo/cmd/acervo/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
