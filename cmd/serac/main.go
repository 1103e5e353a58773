package main

import (
	"fmt"
	"os"
	"time"

	"serac/internal/config"
	"serac/internal/restore"
	"serac/internal/scan"
	"serac/internal/serac"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	os.Exit(run())
}

func run() int {
	err := rootCmd.Execute()
	return exitCode(err)
}

// exitCode maps an error to the process exit code spec.md §6 defines:
// 0 success, 1 user error, 2 runtime error, 3 partial success.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if _, ok := err.(*partialSuccessError); ok {
		return 3
	}

	fmt.Fprintln(os.Stderr, "serac:", err)

	switch err.(type) {
	case *serac.ConfigError, *configUserError:
		return 1
	default:
		return 2
	}
}

// partialSuccessError signals that a restore completed with some
// per-file failures or cold-storage entries still pending retrieval:
// the operator sees the summary already printed,
// this only drives the process exit code.
type partialSuccessError struct{}

func (*partialSuccessError) Error() string { return "restore completed with errors" }

var rootCmd = &cobra.Command{
	Use:           "serac",
	Short:         "Incremental, encrypted, content-addressed archiver for cold storage",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var testCmd = &cobra.Command{
	Use:   "test CONFIG",
	Short: "Validate a config file and check connectivity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		if err := serac.Test(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init CONFIG",
	Short: "Create the index schema for a new repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		if err := serac.Init(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Printf("Initialized index at %s\n", cfg.Index.Path)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive CONFIG",
	Short: "Scan the source roots and record any changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}

		app, err := serac.Open(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer app.Close()

		app.Archiver.OnWarning = func(w scan.Warning) {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", w.Path, w.Err)
		}

		result, err := app.Archiver.Run(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Run #%d: %d added, %d removed, %d bytes uploaded\n",
			result.Run.ID, result.Run.FilesAdded, result.Run.FilesRemoved, result.Run.BytesUploaded)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls CONFIG",
	Short: "List the archived tree visible at a point in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}

		at, pattern, err := atAndPattern(cmd)
		if err != nil {
			return &configUserError{err}
		}

		app, err := serac.Open(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		defer app.Close()

		versions, err := app.Reconstructor.At(cmd.Context(), at, pattern)
		if err != nil {
			return err
		}

		for _, v := range versions {
			fmt.Printf("%s\t%d\t%s\t%s\n", v.Hash, v.Size, v.ModTime.Format(time.RFC3339), v.Path)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore CONFIG DESTINATION",
	Short: "Materialize the archived tree at a point in time onto disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		destination := args[1]

		at, pattern, err := atAndPattern(cmd)
		if err != nil {
			return &configUserError{err}
		}

		app, err := serac.Open(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer app.Close()

		versions, err := app.Reconstructor.At(cmd.Context(), at, pattern)
		if err != nil {
			return err
		}

		restorer := app.Restorer(destination)
		restorer.OnWarning = func(w restore.Warning) {
			fmt.Fprintf(os.Stderr, "warning: %s: %v\n", w.Path, w.Err)
		}

		summary := restorer.Restore(cmd.Context(), versions)

		for _, path := range summary.Restored {
			fmt.Println("restored:", path)
		}
		for _, path := range summary.Pending {
			fmt.Println("pending (cold storage):", path)
		}
		for _, fe := range summary.Failed {
			fmt.Fprintln(os.Stderr, "failed:", fe.Error())
		}

		if len(summary.Failed) > 0 || len(summary.Pending) > 0 {
			return &partialSuccessError{}
		}
		return nil
	},
}

func atAndPattern(cmd *cobra.Command) (time.Time, string, error) {
	atFlag, _ := cmd.Flags().GetString("at")
	pattern, _ := cmd.Flags().GetString("pattern")

	if atFlag == "" {
		return time.Now(), pattern, nil
	}
	at, err := parseDate(atFlag)
	if err != nil {
		return time.Time{}, "", err
	}
	return at, pattern, nil
}

// configUserError marks a bad --at/--pattern flag as a user error
// (exit 1) rather than a runtime error (exit 2).
type configUserError struct{ err error }

func (e *configUserError) Error() string { return e.err.Error() }

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &serac.ConfigError{Err: err}
	}
	if cfg.Archive.Password == "" {
		pw, err := promptPassword()
		if err != nil {
			return nil, &serac.ConfigError{Err: err}
		}
		cfg.Archive.Password = pw
	}
	return cfg, nil
}

// promptPassword reads the archive passphrase from the controlling
// terminal without echoing it, for configs that leave password unset
// rather than storing it in plaintext on disk.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Archive passphrase: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func init() {
	lsCmd.Flags().String("at", "", "point in time to reconstruct (epoch seconds, YYYY-MM-DD, or YYYY-MM-DD HH:MM:SS)")
	lsCmd.Flags().String("pattern", "", "restrict to this path or directory prefix")

	restoreCmd.Flags().String("at", "", "point in time to reconstruct (epoch seconds, YYYY-MM-DD, or YYYY-MM-DD HH:MM:SS)")
	restoreCmd.Flags().String("pattern", "", "restrict to this path or directory prefix")

	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(restoreCmd)
}
