// popwatch blocks page-initiated popups and redirects and runs the authority
// that holds them for an operator verdict.
package main

import "github.com/ppiankov/popwatch/internal/cli"

func main() {
	cli.Execute()
}
