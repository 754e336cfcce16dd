package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"jctledger/config"
	"jctledger/native/schedule"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, strings.TrimSpace(value))
	return nil
}

type commandFlags struct {
	kind     *string
	job      *int
	amount   *string
	currency *string
	endDate  *string
}

func bindCommandFlags(fs *flag.FlagSet) commandFlags {
	return commandFlags{
		kind:     fs.String("command", "", "command type (START_JOB, DECLARE_COMPLETE, DISPUTE_JOB, RECORD_VALUATION, AMEND_AMOUNT, AMEND_END_DATE, ISSUE)"),
		job:      fs.Int("job", 0, "index of the job the command targets"),
		amount:   fs.String("amount", "", "agreed amount for AMEND_AMOUNT"),
		currency: fs.String("currency", "", "currency of --amount"),
		endDate:  fs.String("end-date", "", "agreed end date for AMEND_END_DATE (YYYY-MM-DD)"),
	}
}

func (c commandFlags) set() bool { return strings.TrimSpace(*c.kind) != "" }

func (c commandFlags) command() (schedule.Command, error) {
	kind, err := schedule.ParseCommandType(*c.kind)
	if err != nil {
		return schedule.Command{}, err
	}
	if *c.job < 0 {
		return schedule.Command{}, fmt.Errorf("--job must be non-negative")
	}
	cmd := schedule.Command{Type: kind, JobIndex: *c.job}
	if strings.TrimSpace(*c.amount) != "" {
		if strings.TrimSpace(*c.currency) == "" {
			return schedule.Command{}, fmt.Errorf("--currency is required with --amount")
		}
		amount, err := schedule.ParseMoney(*c.amount, *c.currency)
		if err != nil {
			return schedule.Command{}, fmt.Errorf("--amount: %w", err)
		}
		cmd.Amount = amount
	}
	if strings.TrimSpace(*c.endDate) != "" {
		date, err := schedule.ParseDate(*c.endDate)
		if err != nil {
			return schedule.Command{}, fmt.Errorf("--end-date: %w", err)
		}
		cmd.EndDate = date
	}
	return cmd, nil
}

func readState(path string) (json.RawMessage, *schedule.ScheduleEscrowState, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, fmt.Errorf("state file is required")
	}
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, nil, err
	}
	state, err := schedule.DecodeState(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return json.RawMessage(data), state, nil
}

func runValidateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	oldPath := fs.String("old", "", "current state JSON file (omit for issuance)")
	newPath := fs.String("new", "", "proposed state JSON file")
	authorizers := fs.String("authorizers", "", "comma separated authorizing parties")
	policy := fs.String("policy", "", "optional YAML job transition policy")
	tolerance := fs.String("tolerance", "0.01", "valuation tolerance")
	cmdFlags := bindCommandFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	_, newState, err := readState(*newPath)
	if err != nil {
		fmt.Fprintf(stderr, "--new: %v\n", err)
		return 1
	}
	var oldState *schedule.ScheduleEscrowState
	if strings.TrimSpace(*oldPath) != "" {
		if _, oldState, err = readState(*oldPath); err != nil {
			fmt.Fprintf(stderr, "--old: %v\n", err)
			return 1
		}
	}
	validator, err := config.Validation{Tolerance: *tolerance, PolicyFile: *policy}.Validator()
	if err != nil {
		fmt.Fprintf(stderr, "validator: %v\n", err)
		return 1
	}
	var parties []schedule.Party
	for _, p := range strings.Split(*authorizers, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parties = append(parties, schedule.Party(trimmed))
		}
	}

	var rejection *schedule.Rejection
	switch {
	case cmdFlags.set():
		cmd, err := cmdFlags.command()
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		rejection = validator.Verify(cmd, oldState, newState, parties)
	case oldState == nil:
		rejection = validator.VerifyIssuance(newState, parties)
	default:
		rejection = validator.Validate(oldState, newState, parties)
	}
	decision := schedule.Decision{Accepted: true}
	if rejection != nil {
		decision = schedule.Decision{Reason: rejection.Reason, Message: rejection.Message}
	}
	if err := printJSON(decision); err != nil {
		fmt.Fprintf(stderr, "print response: %v\n", err)
		return 1
	}
	if !decision.Accepted {
		return 2
	}
	return 0
}

func runDigestCommand(args []string) int {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statePath := fs.String("state", "", "proposed state JSON file")
	cmdFlags := bindCommandFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	raw, _, err := readState(*statePath)
	if err != nil {
		fmt.Fprintf(stderr, "--state: %v\n", err)
		return 1
	}
	if !cmdFlags.set() {
		fmt.Fprintln(stderr, "--command is required")
		return 1
	}
	cmd, err := cmdFlags.command()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	result, ok := invoke("schedule_signingDigest", map[string]interface{}{"command": cmd, "state": raw})
	if !ok {
		return 1
	}
	return printRaw(result)
}

func runIssueCommand(args []string) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statePath := fs.String("state", "", "origin state JSON file")
	var sigs stringList
	fs.Var(&sigs, "sig", "participant signature (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	raw, _, err := readState(*statePath)
	if err != nil {
		fmt.Fprintf(stderr, "--state: %v\n", err)
		return 1
	}
	if len(sigs) == 0 {
		fmt.Fprintln(stderr, "at least one --sig is required")
		return 1
	}
	result, ok := invoke("schedule_issue", map[string]interface{}{"state": raw, "signatures": []string(sigs)})
	if !ok {
		return 1
	}
	return printRaw(result)
}

func runProposeCommand(args []string) int {
	fs := flag.NewFlagSet("propose", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statePath := fs.String("state", "", "proposed state JSON file")
	expectedPrev := fs.String("expected-prev", "", "hash of the version the proposal was built on")
	dryRun := fs.Bool("dry-run", false, "validate without recording")
	cmdFlags := bindCommandFlags(fs)
	var sigs stringList
	fs.Var(&sigs, "sig", "participant signature (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	raw, _, err := readState(*statePath)
	if err != nil {
		fmt.Fprintf(stderr, "--state: %v\n", err)
		return 1
	}
	if !cmdFlags.set() {
		fmt.Fprintln(stderr, "--command is required")
		return 1
	}
	cmd, err := cmdFlags.command()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	params := map[string]interface{}{"command": cmd, "state": raw, "signatures": []string(sigs)}
	if prev := strings.TrimSpace(*expectedPrev); prev != "" {
		params["expectedPrev"] = prev
	}
	method := "schedule_propose"
	if *dryRun {
		method = "schedule_dryRun"
	}
	result, ok := invoke(method, params)
	if !ok {
		return 1
	}
	return printRaw(result)
}

func runGetCommand(args []string, method string) int {
	fs := flag.NewFlagSet(strings.TrimPrefix(method, "schedule_"), flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "schedule linear id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(stderr, "--id is required")
		return 1
	}
	result, ok := invoke(method, map[string]string{"linearId": strings.TrimSpace(*id)})
	if !ok {
		return 1
	}
	return printRaw(result)
}

func runListCommand(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	party := fs.String("party", "", "only schedules this party participates in")
	offset := fs.Int("offset", 0, "number of schedules to skip")
	limit := fs.Int("limit", 0, "maximum number of schedules to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{}
	if p := strings.TrimSpace(*party); p != "" {
		params["party"] = p
	}
	if *offset > 0 {
		params["offset"] = *offset
	}
	if *limit > 0 {
		params["limit"] = *limit
	}
	result, ok := invoke("schedule_list", params)
	if !ok {
		return 1
	}
	return printRaw(result)
}

type exportResult struct {
	Format   string `json:"format"`
	Data     []byte `json:"data"`
	Checksum string `json:"checksum"`
}

func runExportCommand(args []string) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "schedule linear id")
	format := fs.String("format", "csv", "csv, jsonl or parquet")
	out := fs.String("out", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*id) == "" {
		fmt.Fprintln(stderr, "--id is required")
		return 1
	}
	result, ok := invoke("schedule_export", map[string]string{"linearId": strings.TrimSpace(*id), "format": *format})
	if !ok {
		return 1
	}
	var export exportResult
	if err := json.Unmarshal(result, &export); err != nil {
		fmt.Fprintf(stderr, "decode export response: %v\n", err)
		return 1
	}
	if path := strings.TrimSpace(*out); path != "" {
		if err := os.WriteFile(path, export.Data, 0o644); err != nil {
			fmt.Fprintf(stderr, "write export: %v\n", err)
			return 1
		}
		fmt.Fprintf(stderr, "wrote %d bytes (%s, sha256 %s)\n", len(export.Data), export.Format, export.Checksum)
		return 0
	}
	if _, err := stdout.Write(export.Data); err != nil {
		fmt.Fprintf(stderr, "write export: %v\n", err)
		return 1
	}
	return 0
}
