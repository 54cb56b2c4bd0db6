package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

func runSaleCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "list":
		return runList(args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "deposit":
		return runFunds(args[1:], stdout, stderr, "deposit")
	case "fund":
		return runFunds(args[1:], stdout, stderr, "fund")
	case "inspect":
		return runInspect(args[1:], stdout, stderr)
	case "approve":
		return runCallerAction(args[1:], stdout, stderr, "approve")
	case "finalize":
		return runCallerAction(args[1:], stdout, stderr, "finalize")
	case "cancel":
		return runCallerAction(args[1:], stdout, stderr, "cancel")
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "roles":
		return runRoles(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	node := fs.String("node", "http://localhost:8545", "escrowd base URL")
	return fs, node
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs, node := newFlagSet("list", stderr)
	caller := fs.String("caller", "", "seller hex address")
	assetID := fs.Uint64("asset", 0, "asset id")
	buyer := fs.String("buyer", "", "designated buyer hex address (optional)")
	price := fs.String("price", "", "purchase price in the smallest fund unit")
	earnest := fs.String("earnest", "", "required earnest amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := map[string]interface{}{
		"caller":        *caller,
		"assetId":       *assetID,
		"purchasePrice": *price,
		"escrowAmount":  *earnest,
	}
	if strings.TrimSpace(*buyer) != "" {
		payload["buyer"] = *buyer
	}
	return postJSON(stdout, stderr, *node, "/v1/listings", payload)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs, node := newFlagSet("get", stderr)
	assetID := fs.Uint64("asset", 0, "asset id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return getJSON(stdout, stderr, *node, fmt.Sprintf("/v1/listings/%d", *assetID))
}

func runFunds(args []string, stdout, stderr io.Writer, action string) int {
	fs, node := newFlagSet(action, stderr)
	caller := fs.String("caller", "", "sender hex address")
	assetID := fs.Uint64("asset", 0, "asset id")
	amount := fs.String("amount", "", "amount in the smallest fund unit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := map[string]string{"caller": *caller, "amount": *amount}
	return postJSON(stdout, stderr, *node, fmt.Sprintf("/v1/listings/%d/%s", *assetID, action), payload)
}

func runInspect(args []string, stdout, stderr io.Writer) int {
	fs, node := newFlagSet("inspect", stderr)
	caller := fs.String("caller", "", "inspector hex address")
	assetID := fs.Uint64("asset", 0, "asset id")
	passed := fs.Bool("passed", false, "whether the inspection passed")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := map[string]interface{}{"caller": *caller, "passed": *passed}
	return postJSON(stdout, stderr, *node, fmt.Sprintf("/v1/listings/%d/inspection", *assetID), payload)
}

func runCallerAction(args []string, stdout, stderr io.Writer, action string) int {
	fs, node := newFlagSet(action, stderr)
	caller := fs.String("caller", "", "caller hex address")
	assetID := fs.Uint64("asset", 0, "asset id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := map[string]string{"caller": *caller}
	return postJSON(stdout, stderr, *node, fmt.Sprintf("/v1/listings/%d/%s", *assetID, action), payload)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs, node := newFlagSet("balance", stderr)
	assetID := fs.Uint64("asset", 0, "asset id (omit for the total balance)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	// Asset id 0 is a valid listing, so the flag's presence decides the path.
	assetSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "asset" {
			assetSet = true
		}
	})
	path := "/v1/balance"
	if assetSet {
		path = fmt.Sprintf("/v1/listings/%d/balance", *assetID)
	}
	return getJSON(stdout, stderr, *node, path)
}

func runRoles(args []string, stdout, stderr io.Writer) int {
	fs, node := newFlagSet("roles", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return getJSON(stdout, stderr, *node, "/v1/roles")
}

func postJSON(stdout, stderr io.Writer, node, path string, payload interface{}) int {
	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(stderr, "encode request: %v\n", err)
		return 1
	}
	resp, err := httpClient.Post(strings.TrimRight(node, "/")+path, "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	return render(stdout, stderr, resp)
}

func getJSON(stdout, stderr io.Writer, node, path string) int {
	resp, err := httpClient.Get(strings.TrimRight(node, "/") + path)
	if err != nil {
		fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	return render(stdout, stderr, resp)
}

func render(stdout, stderr io.Writer, resp *http.Response) int {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "read response: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	if resp.StatusCode >= 400 {
		fmt.Fprintf(stderr, "%s\n", data)
		return 1
	}
	fmt.Fprintf(stdout, "%s\n", data)
	return 0
}
