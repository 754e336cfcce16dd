package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	rpcURLEnv   = "JCT_RPC_URL"
	rpcTokenEnv = "JCT_RPC_TOKEN"
	keyPassEnv  = "JCT_KEY_PASS"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	rpcEndpoint string
	rpcToken    string

	// scheduleRPCCall is swapped out in tests.
	scheduleRPCCall = callRPC
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defaultRPC := strings.TrimSpace(os.Getenv(rpcURLEnv))
	if defaultRPC == "" {
		defaultRPC = "http://127.0.0.1:8547/rpc"
	}
	root := flag.NewFlagSet("jct-cli", flag.ContinueOnError)
	root.SetOutput(stderr)
	rpcURL := root.String("rpc", defaultRPC, "JSON-RPC endpoint")
	authToken := root.String("auth", strings.TrimSpace(os.Getenv(rpcTokenEnv)), "Bearer token for write methods")
	if err := root.Parse(args); err != nil {
		return 1
	}
	rpcEndpoint = strings.TrimSpace(*rpcURL)
	rpcToken = strings.TrimSpace(*authToken)

	rest := root.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	sub, subArgs := rest[0], rest[1:]
	switch sub {
	case "keygen":
		return runKeygenCommand(subArgs)
	case "address":
		return runAddressCommand(subArgs)
	case "sign":
		return runSignCommand(subArgs)
	case "validate":
		return runValidateCommand(subArgs)
	case "digest":
		return runDigestCommand(subArgs)
	case "issue":
		return runIssueCommand(subArgs)
	case "propose":
		return runProposeCommand(subArgs)
	case "get":
		return runGetCommand(subArgs, "schedule_get")
	case "history":
		return runGetCommand(subArgs, "schedule_history")
	case "list":
		return runListCommand(subArgs)
	case "export":
		return runExportCommand(subArgs)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", sub)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func callRPC(method string, params interface{}) (json.RawMessage, *rpcError, error) {
	var list []interface{}
	if params != nil {
		list = []interface{}{params}
	} else {
		list = []interface{}{}
	}
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: list, ID: int(time.Now().UnixNano() & 0x7fffffff)})
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if rpcToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+rpcToken)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, nil, err
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, nil, fmt.Errorf("rpc status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error, nil
	}
	return rpcResp.Result, nil, nil
}

// invoke performs a call and reports transport and RPC failures on stderr.
func invoke(method string, params interface{}) (json.RawMessage, bool) {
	result, rpcErr, err := scheduleRPCCall(method, params)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return nil, false
	}
	if rpcErr != nil {
		printRPCError(rpcErr)
		return nil, false
	}
	return result, true
}

func printRPCError(err *rpcError) {
	if err == nil {
		return
	}
	fmt.Fprintf(stderr, "RPC error (%d): %s\n", err.Code, err.Message)
	if len(err.Data) > 0 && string(err.Data) != "null" {
		fmt.Fprintf(stderr, "Details: %s\n", strings.TrimSpace(string(err.Data)))
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}

func printRaw(result json.RawMessage) int {
	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, out.String())
	return 0
}

func usage() string {
	return `jct-cli usage:
  jct-cli [--rpc URL] [--auth TOKEN] <command> [options]

Keys:
  keygen --keystore PATH                     Create an encrypted party key and print its address
  address --keystore PATH                    Print the address of a keystore
  sign --keystore PATH --digest 0x..         Sign a digest returned by "digest"

Schedules:
  validate --new FILE [--old FILE] [--authorizers A,B] [--command T --job N ...] [--policy FILE] [--tolerance X]
                                             Validate a transition offline
  digest --state FILE --command T [--job N] [--amount X --currency C] [--end-date YYYY-MM-DD]
  issue --state FILE --sig 0x.. [--sig 0x..]
  propose --state FILE --command T [--job N] [--expected-prev 0x..] --sig 0x.. [--sig 0x..]
  get --id UUID
  history --id UUID
  list [--party ADDR] [--offset N] [--limit N]
  export --id UUID [--format csv|jsonl|parquet] [--out FILE]`
}
