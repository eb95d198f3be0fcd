package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rack-go/internal/app"
	"rack-go/internal/config"
	"rack-go/internal/rack"
)

var verbose bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", rack.Kind(err), err)
		os.Exit(1)
	}
}

// newApp opens the project containing the working directory.
// The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "store", "dump").
func newApp(operation string) (*app.RackApp, error) {
	var stderr io.Writer
	if verbose {
		stderr = os.Stderr
	}
	return app.NewRackApp(".", operation, stderr)
}

var rootCmd = &cobra.Command{
	Use:           "rack",
	Short:         "Local per-project archive store for log directories",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty rack project in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, cfg, err := app.Init(".")
		if err != nil {
			return err
		}
		fmt.Printf("Initialized empty rack project in %s\n", paths.RackDir)
		fmt.Printf("Store ID:  %s\n", cfg.StoreID)
		fmt.Printf("Input dir: %s\n", cfg.InputDir)
		return nil
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store [LABEL] [KEY=VALUE...]",
	Short: "Capture a directory as a new commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("message")
		path, _ := cmd.Flags().GetString("path")
		clearSource, _ := cmd.Flags().GetBool("rm")

		if label == "" {
			if len(args) == 0 || strings.Contains(args[0], "=") {
				return fmt.Errorf("%w: a label is required (rack store LABEL or -m LABEL)", rack.ErrConfig)
			}
			label, args = args[0], args[1:]
		}
		tags, err := rack.ParseTags(args)
		if err != nil {
			return err
		}
		var level *int
		if cmd.Flags().Changed("level") {
			l, _ := cmd.Flags().GetInt("level")
			level = &l
		}

		a, err := newApp("store")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Store(cmd.Context(), label, tags, path, clearSource, level, newProgress())
		if err != nil {
			return err
		}

		fmt.Printf("Stored %s\n", formatCommit(res.Commit))
		if clearSource {
			if res.ClearErr != nil {
				fmt.Fprintf(os.Stderr, "warning: could not clear source directory: %v\n", res.ClearErr)
			} else {
				fmt.Printf("Cleared contents of %s\n", res.Commit.SourceDir)
			}
		}
		return nil
	},
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List commits",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		field, _ := cmd.Flags().GetString("sort")
		desc, _ := cmd.Flags().GetBool("desc")

		a, err := newApp("list")
		if err != nil {
			return err
		}
		defer a.Close()

		commits, err := a.List(field, desc)
		if err != nil {
			return err
		}
		if len(commits) == 0 {
			fmt.Println("Rack is empty.")
			return nil
		}
		for _, c := range commits {
			fmt.Println(formatCommit(c))
		}
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search KEY=VALUE...",
	Short: "Find commits by label (msg=...) and tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := rack.ParseTags(args)
		if err != nil {
			return err
		}

		a, err := newApp("search")
		if err != nil {
			return err
		}
		defer a.Close()

		commits, err := a.Search(filters)
		if err != nil {
			return err
		}
		for _, c := range commits {
			fmt.Println(formatCommit(c))
		}
		return nil
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info FINGERPRINT",
	Short: "Show a commit's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("info")
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := a.Info(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Commit:    %s\n", c.Fingerprint)
		fmt.Printf("Date:      %s\n", formatTime(c.Timestamp))
		fmt.Printf("Label:     %s\n", c.Label)
		fmt.Printf("Path:      %s\n", c.StoragePath)
		fmt.Printf("Input dir: %s\n", c.SourceDir)
		fmt.Printf("Size:      %s\n", humanize.Bytes(uint64(c.ByteSize)))
		fmt.Printf("Files:     %d\n", c.FileCount)
		if c.Mode != "" {
			fmt.Printf("Mode:      %s (%s)\n", c.Mode, c.Codec)
		}
		if c.Encrypted {
			fmt.Println("Encrypted: yes")
		}
		if len(c.Tags) > 0 {
			fmt.Printf("Tags:      %s\n", c.Tags.String())
		}

		ops, err := a.CommitHistory(c.Fingerprint)
		if err != nil {
			return err
		}
		if len(ops) > 0 {
			fmt.Println("History:")
			for _, op := range ops {
				fmt.Printf("  #%d  %-8s  %s  %s\n", op.ID, op.Operation, op.StartedAt.Local().Format("2006-01-02 15:04:05"), op.Status)
			}
		}
		return nil
	},
}

// dump command
var dumpCmd = &cobra.Command{
	Use:   "dump FINGERPRINT",
	Short: "Restore a commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")
		purge, _ := cmd.Flags().GetBool("rm")

		a, err := newApp("dump")
		if err != nil {
			return err
		}
		defer a.Close()

		unlock := func() (rack.DecryptionContext, error) {
			passphrase, err := readPassphrase("Passphrase: ")
			if err != nil {
				return nil, err
			}
			return a.Unlock(passphrase)
		}

		res, err := a.Dump(cmd.Context(), args[0], out, purge, unlock, newProgress())
		if err != nil {
			return err
		}
		fmt.Printf("Dumped %d file(s) into %s\n", len(res.Files), res.TargetDir)
		if res.Purged {
			fmt.Printf("Removed stored commit %s\n", args[0])
		}
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add FINGERPRINT KEY=VALUE...",
	Short: "Add or change tags on a commit",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := rack.ParseTags(args[1:])
		if err != nil {
			return err
		}

		a, err := newApp("add")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Retag(args[0], tags)
		if err != nil {
			return err
		}
		if res.Renamed {
			fmt.Printf("Tags added and commit renamed: %s -> %s\n", res.OldFingerprint, res.Commit.Fingerprint)
		} else {
			fmt.Printf("Tags updated for %s: %s\n", res.Commit.Fingerprint, res.Commit.Tags.String())
		}
		return nil
	},
}

// burn command
var burnCmd = &cobra.Command{
	Use:   "burn [FINGERPRINT...]",
	Short: "Delete commits, or the whole project store when none are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := newApp("burn")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 0 {
			if !yes && !confirm(fmt.Sprintf("Really delete %s and all its contents? (y/N): ", a.Paths().RackDir)) {
				fmt.Println("Aborted.")
				return nil
			}
			if err := a.BurnAll(); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", a.Paths().RackDir)
			return nil
		}

		burned, err := a.Burn(args)
		for _, fp := range burned {
			fmt.Printf("Deleted %s\n", fp)
		}
		return err
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the project configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("config")
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("# %s\n", a.Paths().Config)
		m := &config.Manager{}
		return m.Write(os.Stdout, a.Config())
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the index against the store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repair, _ := cmd.Flags().GetBool("repair")

		operation := "check"
		if repair {
			operation = "repair"
		}
		a, err := newApp(operation)
		if err != nil {
			return err
		}
		defer a.Close()

		var report *rack.CheckReport
		if repair {
			report, err = a.Repair()
		} else {
			report, err = a.Check()
		}
		if err != nil {
			return err
		}

		if report.Clean() {
			fmt.Println("Store is consistent.")
			return nil
		}
		printFindings("missing storage", report.Missing)
		printFindings("orphaned directory", report.Orphans)
		printFindings("leftover staging", report.Staging)
		printFindings("leftover tombstone", report.Retired)
		if repair {
			fmt.Println("Repaired. Orphaned directories are left in place.")
			return nil
		}
		return fmt.Errorf("store is inconsistent (run `rack check --repair`)")
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View the operation journal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.Finished() {
				duration = op.FinishedAt.Time.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-8s  %-12s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				op.Fingerprint,
				duration,
			)
			if op.Message != "" {
				fmt.Printf("    %s\n", op.Message)
			}
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the encryption key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the project's age key pair",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("keys")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readNewPassphrase()
		if err != nil {
			return err
		}
		if err := a.SetupKeys(passphrase); err != nil {
			return err
		}
		fmt.Printf("Key pair written under %s\n", a.Paths().Resolve(a.Config().Encryption.PublicKeyPath))
		if !a.Encrypted() {
			fmt.Println("Set [encryption] type = \"age\" in the config to encrypt new commits.")
		}
		return nil
	},
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatCommit renders one commit on a single line.
func formatCommit(c *rack.Commit) string {
	line := fmt.Sprintf("%s | %s | %s | %d files | %s",
		c.Fingerprint, formatTime(c.Timestamp), humanize.Bytes(uint64(c.ByteSize)), c.FileCount, c.Label)
	if len(c.Tags) > 0 {
		line += " | " + c.Tags.String()
	}
	return line
}

func printFindings(kind string, fps []string) {
	for _, fp := range fps {
		fmt.Printf("%-20s %s\n", kind, fp)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Copy log output to stderr")

	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().StringP("message", "m", "", "Commit label")
	storeCmd.Flags().StringP("path", "p", "", "Directory to capture (default: input_dir from the config)")
	storeCmd.Flags().Bool("rm", false, "Clear the source directory after a successful store")
	storeCmd.Flags().Int("level", 0, "Override the configured compression effort")

	rootCmd.AddCommand(listCmd)
	listCmd.Flags().String("sort", rack.SortTimestamp, "Sort by timestamp, byte_size, file_count, label or tag:<name>")
	listCmd.Flags().Bool("desc", false, "Sort in descending order")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(infoCmd)

	rootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringP("output", "o", "", "Restore into this directory (default: the commit's input directory)")
	dumpCmd.Flags().Bool("rm", false, "Remove the commit after a successful restore")

	rootCmd.AddCommand(addCmd)

	rootCmd.AddCommand(burnCmd)
	burnCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(configCmd)

	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("repair", false, "Fix inconsistencies where it is safe to do so")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysInitCmd)
}
