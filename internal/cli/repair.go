package cli

import (
	"github.com/spf13/cobra"
)

// NewRereduceCommand creates the rereduce command.
func NewRereduceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rereduce <public-key>",
		Short: "Recompute a reduction from its log",
		Long: `Recompute the materialized profile of a log by replaying every entry,
store it, and print it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			pk, err := parsePublicKey(out, args[0])
			if err != nil {
				return err
			}
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			state, err := s.engine.Rereduce(cmd.Context(), pk)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "rereduce failed", err)
			}
			return printReduction(out, state)
		},
	}
}

// RebuildOptions holds flags for the rebuild command.
type RebuildOptions struct {
	*RootOptions
	All bool
}

// RebuildResult is the output of rebuild.
type RebuildResult struct {
	Rebuilt int `json:"rebuilt"`
}

// NewRebuildCommand creates the rebuild command.
func NewRebuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RebuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rebuild [public-key]",
		Short: "Regenerate derived indexes from the logs",
		Long: `Regenerate the reduction, follower edges, timeline, mentions and reply
edges of one identity, or of every identity with --all.

Use after an append reported E024 (committed, index maintenance failed).

Examples:
  siglog rebuild 3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29
  siglog rebuild --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "rebuild every identity")

	return cmd
}

func runRebuild(opts *RebuildOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	if opts.All == (len(args) == 1) {
		const msg = "give exactly one of a public key or --all"
		_ = out.Error(ErrCodeInput, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	result := RebuildResult{}
	if opts.All {
		n, err := s.engine.RebuildAll(cmd.Context())
		result.Rebuilt = n
		if err != nil {
			return out.fail(ExitFailure, ErrorCode(err), "rebuild failed", err)
		}
	} else {
		pk, err := parsePublicKey(out, args[0])
		if err != nil {
			return err
		}
		if err := s.engine.Rebuild(cmd.Context(), pk); err != nil {
			return out.fail(ExitFailure, ErrorCode(err), "rebuild failed", err)
		}
		result.Rebuilt = 1
	}

	if out.JSON() {
		return out.Success(result)
	}
	out.Printf("rebuilt %d identities", result.Rebuilt)
	return nil
}
