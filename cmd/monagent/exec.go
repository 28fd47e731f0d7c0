package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	shlex "github.com/anmitsu/go-shlex"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/monagent/pkg/cli"
	"github.com/cuemby/monagent/pkg/jobs"
)

var execCmd = &cobra.Command{
	Use:   "exec COMMAND",
	Short: "Run a job and print its result",
	Long: `Run one job synchronously on this host and print the job result.

Examples:
  # Fetch the current OSD map
  monagent exec ceph.get_cluster_object --arg cluster_name=ceph --arg sync_type=osd_map

  # Run a batch of cluster commands
  monagent exec ceph.rados_commands --args-json '{"cluster_name": "ceph", "fsid": "...",
    "commands": [["osd pool set", {"pool": "rbd", "var": "size", "val": "3"}]]}'`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

var cephCmd = &cobra.Command{
	Use:   "ceph -- ARGS",
	Short: "Run a ceph CLI command through the job runner",
	Long: `Run the ceph CLI with the given arguments, as the ceph.ceph_command job
does. A single quoted argument is split like a shell command line.

Examples:
  monagent ceph -- osd tree
  monagent ceph --cluster backup "osd pool ls detail"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCeph,
}

func init() {
	execCmd.Flags().StringArray("arg", nil, "Job argument as key=value; JSON values are decoded (repeatable)")
	execCmd.Flags().String("args-json", "", "Job arguments as a JSON object")
	execCmd.Flags().StringP("output", "o", "yaml", "Output format (yaml or json)")

	cephCmd.Flags().String("cluster", "ceph", "Cluster name")
}

func runExec(cmd *cobra.Command, args []string) error {
	pairs, _ := cmd.Flags().GetStringArray("arg")
	argsJSON, _ := cmd.Flags().GetString("args-json")
	output, _ := cmd.Flags().GetString("output")

	jobArgs, err := parseJobArgs(argsJSON, pairs)
	if err != nil {
		return err
	}

	a, err := newAgent(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agent: %v", err)
	}
	sub := a.subscribe()
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := sub.RunSync(ctx, a.fqdn, args[0], jobArgs)
	if err != nil {
		return err
	}
	if err := render(os.Stdout, output, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("job %s failed", args[0])
	}
	return nil
}

func runCeph(cmd *cobra.Command, args []string) error {
	cluster, _ := cmd.Flags().GetString("cluster")

	argv, err := cephArgs(args)
	if err != nil {
		return err
	}

	a, err := newAgent(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agent: %v", err)
	}
	sub := a.subscribe()
	defer sub.Close()

	result, err := sub.RunSync(cmd.Context(), a.fqdn, string(jobs.CmdCephCommand), map[string]any{
		"cluster_name": cluster,
		"args":         argv,
	})
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%v", result.Return)
	}

	out := result.Return.(cli.Output)
	fmt.Fprint(os.Stdout, out.Stdout)
	fmt.Fprint(os.Stderr, out.Stderr)
	if out.Status != 0 {
		return fmt.Errorf("ceph exited with status %d", out.Status)
	}
	return nil
}

// cephArgs splits a single quoted command line; several arguments are used as given
func cephArgs(args []string) ([]string, error) {
	if len(args) != 1 || !strings.ContainsAny(args[0], " \t") {
		return args, nil
	}
	words, err := shlex.Split(args[0], true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command line: %v", err)
	}
	return words, nil
}

// parseJobArgs merges a JSON object with key=value pairs, pairs taking
// precedence. Values that parse as JSON keep their type, everything else is a
// string.
func parseJobArgs(argsJSON string, pairs []string) (map[string]any, error) {
	result := make(map[string]any)
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &result); err != nil {
			return nil, fmt.Errorf("failed to parse --args-json: %v", err)
		}
	}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		result[key] = value
	}
	return result, nil
}

// render writes v in the requested format
func render(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
