package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	return runSaleCommand(args, stdout, stderr)
}

func usage() string {
	return `Usage: escrow-cli <command> [flags]

Commands:
  list       Create a listing for an escrow-held asset
  get        Show a listing
  deposit    Deposit the earnest amount as the buyer
  fund       Send a top-up transfer (lender remainder)
  inspect    Record the inspector's verdict
  approve    Record a sale approval
  finalize   Finalize the sale as the seller
  cancel     Cancel the sale
  balance    Show the custodial balance (total, or one listing with -asset)
  roles      Show the fixed role addresses

Global flags (every command):
  -node      Base URL of the escrowd HTTP API (default http://localhost:8545)`
}
