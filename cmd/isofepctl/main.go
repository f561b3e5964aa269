// isofepctl is the CLI client for an ISO 8583 front-end processor.
package main

import "github.com/dantte-lp/isofep/cmd/isofepctl/commands"

func main() {
	commands.Execute()
}
