package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rojo-labs/txguard/pkg/domain"
	"github.com/rojo-labs/txguard/pkg/eip712"
	"github.com/rojo-labs/txguard/pkg/logging"
)

// errUnsafe is returned by inspect --fail-unsafe for an unsafe message.
var errUnsafe = errors.New("message is not safe to sign")

func newEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate [transaction.json|-]",
		Short: "Evaluate a transaction against a policy",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvaluate,
	}
	cmd.Flags().StringP("policy", "p", domain.DefaultPolicyID, "Policy id to evaluate against")
	cmd.Flags().StringP("registry", "r", "", "Registry seed file with extra policies (YAML or JSON)")
	cmd.Flags().Bool("preflight", false, "Also run the pre-flight security checks")
	return cmd
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg, logging.NewLogger(logging.Config{Level: "error", Output: cmd.ErrOrStderr()}))
	if err != nil {
		return err
	}

	registry, _ := cmd.Flags().GetString("registry")
	if registry == "" {
		registry = cfg.Registry.File
	}
	if err := a.applySeedFile(registry); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	raw, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return fmt.Errorf("parse transaction: %w", err)
	}

	policyID, _ := cmd.Flags().GetString("policy")
	withPreflight, _ := cmd.Flags().GetBool("preflight")

	var out any
	if withPreflight {
		out = a.validator.Validate(cmd.Context(), policyID, tx)
	} else {
		out = a.evaluator.Evaluate(cmd.Context(), policyID, tx)
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [typed-data.json|-]",
		Short: "Inspect an EIP-712 typed-data document before signing",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	cmd.Flags().StringSlice("trust", nil, "Additional trusted verifying contracts")
	cmd.Flags().Bool("json", false, "Print the raw inspection result as JSON")
	cmd.Flags().Bool("fail-unsafe", false, "Exit with an error when the message is unsafe")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), cfg, logging.NewLogger(logging.Config{Level: "error", Output: cmd.ErrOrStderr()}))
	if err != nil {
		return err
	}
	if err := a.applySeedFile(cfg.Registry.File); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	extra, _ := cmd.Flags().GetStringSlice("trust")
	for _, address := range extra {
		if !a.trust.Add(address) {
			return fmt.Errorf("trusted contract %q: %w", address, domain.ErrInvalidAddress)
		}
	}

	raw, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	result := a.inspector.InspectJSON(cmd.Context(), raw)

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(cmd.OutOrStdout(), result)
	}

	failUnsafe, _ := cmd.Flags().GetBool("fail-unsafe")
	if failUnsafe && !result.Safe {
		return errUnsafe
	}
	return nil
}

// printSummary writes the plain-text summary, coloring lines by severity.
func printSummary(w io.Writer, result eip712.Result) {
	heading := color.New(color.FgCyan, color.Bold)
	danger := color.New(color.FgRed, color.Bold)
	warning := color.New(color.FgYellow)
	safe := color.New(color.FgGreen, color.Bold)

	section := ""
	for _, line := range strings.Split(strings.TrimRight(eip712.Summary(result), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "DANGER"):
			danger.Fprintln(w, line)
		case strings.HasPrefix(line, "The message appears safe"):
			safe.Fprintln(w, line)
		case strings.HasSuffix(line, ":") && !strings.HasPrefix(line, " "):
			section = line
			heading.Fprintln(w, line)
		case strings.HasPrefix(line, "  - ") && section == "Critical errors:":
			danger.Fprintln(w, line)
		case strings.HasPrefix(line, "  - ") && section == "Warnings:":
			warning.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

// readInput reads a file, or stdin when name is "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	// #nosec G304 -- Input path is supplied by the operator
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
