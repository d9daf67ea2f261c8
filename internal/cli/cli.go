// Package cli wires forkyard's cobra command tree, one subcommand per
// verb, each built as a cobra.Command registered from this package.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/forkyard/forkyard/internal/advisor"
	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/forkerr"
	"github.com/forkyard/forkyard/internal/gitproc"
	"github.com/forkyard/forkyard/internal/lifecycle"
	"github.com/forkyard/forkyard/internal/posthook"
	"github.com/forkyard/forkyard/internal/toolconfig"
)

const selfName = "forkyard"

// app holds everything a command needs, assembled once in
// NewRootCommand's PersistentPreRunE.
type app struct {
	deps  lifecycle.Deps
	store *config.Store
}

func (a *app) entry(name string) (*config.Entry, error) {
	return a.store.Get(name)
}

// NewRootCommand builds the full forkyard command tree.
func NewRootCommand() *cobra.Command {
	var a app

	root := &cobra.Command{
		Use:           "forkyard",
		Short:         "Deterministic record/replay for forked source repositories",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			tc, err := toolconfig.Load()
			if err != nil {
				return forkerr.Wrap(forkerr.KindConfig, "check forkyard.toml", err, "loading tool config")
			}
			store, err := config.Load(tc.EntriesDoc, selfName)
			if err != nil {
				return err
			}
			a.store = store
			a.deps = lifecycle.Deps{
				Driver:     gitproc.New(cmd.Context()),
				Advisor:    advisor.NewHTTPClient(tc.AdvisorEndpoint),
				Hook:       posthook.NoopHook{},
				PinsRoot:   tc.PinsDir,
				ClonesRoot: tc.ClonesDir,
			}
			return nil
		},
	}

	root.AddCommand(
		newRecordCmd(&a),
		newReplayCmd(&a),
		newSaveCmd(&a),
		newPushCmd(&a),
		newStatusCmd(&a),
		newCleanCmd(&a),
		newResetCmd(&a),
		newStatusAllCmd(&a),
		newCleanAllCmd(&a),
		newReplayAllCmd(&a),
		newDoctorCmd(&a),
	)
	return root
}

func newRecordCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "record <name> [ref ...]",
		Short: "Record a fresh deterministic build of an entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			advisorClient, cleanup := cachingAdvisor(a.deps.Advisor, args[0])
			defer cleanup()
			deps := a.deps
			deps.Advisor = advisorClient

			res, err := lifecycle.Record(cmd.Context(), deps, entry, args[1:], dryRun)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would merge: %s\n", strings.Join(res.DryRunPlan, " -> "))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s: HEAD=%s merges=%d\n", args[0], res.HeadSHA, res.MergeCount)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned merge sequence without touching the filesystem")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "replay <name>",
		Short: "Rebuild an entry's clone purely from its pins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			res, err := lifecycle.Replay(cmd.Context(), a.deps, entry, dryRun)
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (%s)\n", args[0], res.SkipReason)
				return nil
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "would merge: %s\n", strings.Join(res.DryRunPlan, " -> "))
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %s: HEAD=%s\n", args[0], res.HeadSHA)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the manifest's merge sequence without touching the filesystem")
	return cmd
}

func newSaveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <name> [desc]",
		Short: "Save uncommitted wip changes as a local patch",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			desc := ""
			if len(args) == 2 {
				desc = args[1]
			}
			head, noop, err := lifecycle.Save(a.deps, entry, desc)
			if err != nil {
				return err
			}
			if noop {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no changes to save\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s: HEAD=%s\n", args[0], head)
			return nil
		},
	}
}

func newPushCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "push <name> [target]",
		Short: "Cherry-pick wip's unpinned commits onto a push target",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			target := ""
			if len(args) == 2 {
				target = args[1]
			}
			return lifecycle.Push(a.deps, entry, target)
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Report whether an entry's clone is safe to wipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			res, err := lifecycle.Status(a.deps, entry)
			if err != nil {
				return err
			}
			if res.Clean {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: clean\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: dirty\n%s\n", args[0], res.Reason)
			os.Exit(1)
			return nil
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean <name>",
		Short: "Remove an entry's clone after the status guard passes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			return lifecycle.Clean(a.deps, entry)
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <name>",
		Short: "Clean an entry's clone and remove its pins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			return lifecycle.Reset(a.deps, entry)
		},
	}
}

func newStatusAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status-all",
		Short: "Report status for every configured entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, allClean, err := lifecycle.StatusAll(a.deps, a.store)
			if err != nil {
				return err
			}
			for _, name := range a.store.AllNames() {
				r := results[name]
				if r.Clean {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: clean\n", name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: dirty (%s)\n", name, r.Reason)
				}
			}
			if !allClean {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newCleanAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean-all",
		Short: "Clean every configured entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			errs := lifecycle.CleanAll(a.deps, a.store)
			for _, name := range a.store.AllNames() {
				if err, ok := errs[name]; ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: cleaned\n", name)
				}
			}
			if len(errs) > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newReplayAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay-all",
		Short: "Replay every configured entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			results, errs := lifecycle.ReplayAll(cmd.Context(), a.deps, a.store)
			for _, name := range a.store.AllNames() {
				if err, ok := errs[name]; ok {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", name, err)
					continue
				}
				r := results[name]
				if r.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (%s)\n", name, r.SkipReason)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: replayed HEAD=%s\n", name, r.HeadSHA)
			}
			if len(errs) > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <name>",
		Short: "Report pin-artifact coverage and status for one entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := a.entry(args[0])
			if err != nil {
				return err
			}
			return runDoctor(cmd, a.deps, entry)
		},
	}
}

// cachingAdvisor wraps the process-wide advisor client with a
// per-invocation on-disk cache scoped to a fresh temp directory. The
// returned cleanup always removes the cache dir.
func cachingAdvisor(inner advisor.Client, name string) (advisor.Client, func()) {
	dir, err := os.MkdirTemp("", "forkyard-advisor-cache-"+name+"-")
	if err != nil {
		logrus.WithError(err).Warn("could not create advisor cache dir, proceeding uncached")
		return inner, func() {}
	}
	return advisor.NewCachingClient(inner, dir), func() { os.RemoveAll(dir) }
}
