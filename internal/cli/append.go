package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/siglog/internal/engine"
	"github.com/roach88/siglog/internal/envelope"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	KeepGoing bool
}

// AppendResult reports one envelope submitted to append.
type AppendResult struct {
	PublicKey envelope.PublicKey `json:"publicKey"`
	Index     int64              `json:"index"`
	Digest    string             `json:"digest,omitempty"`
	Outcome   string             `json:"outcome"`
	Code      string             `json:"code,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append [envelopes.json]",
		Short: "Verify and append envelopes to their logs",
		Long: `Append a stream of JSON envelopes read from the file argument or stdin.

Every envelope's signature is verified before it reaches the engine.
Envelopes are appended in input order; by default the command stops at the
first rejection.

Exit codes:
  0 - Every envelope was appended or already present
  1 - An envelope was rejected (conflict, gap, date, signature, ...)
  2 - Command error (unreadable input, storage unavailable)

Examples:
  siglog append entries.json
  siglog sign --seed $SEED --index 0 post.json | siglog append`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.KeepGoing, "keep-going", false, "continue after a rejected envelope")

	return cmd
}

func runAppend(opts *AppendOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	envs, err := readEnvelopes(cmd, args)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "failed to read envelopes", err)
	}

	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	results := make([]AppendResult, 0, len(envs))
	rejected := 0
	for _, env := range envs {
		r := AppendResult{PublicKey: env.PublicKey, Index: env.Message.Index}
		if d, err := envelope.Hash(env); err == nil {
			r.Digest = d.String()
		}

		if err := verifyEnvelope(env); err != nil {
			r.Outcome = "rejected"
			r.Code = ErrCodeSignature
			if envelope.IsValidationError(err) {
				r.Code = ErrCodeInvalid
			}
			r.Error = err.Error()
		} else {
			outcome, err := s.engine.Append(ctx, env)
			switch {
			case err == nil:
				r.Outcome = outcome.String()
			case engine.IsCommitted(err):
				r.Outcome = engine.OutcomeAppended.String()
				r.Code = ErrCodeFanout
				r.Error = err.Error()
			default:
				r.Outcome = "rejected"
				r.Code = ErrorCode(err)
				r.Error = err.Error()
			}
		}

		results = append(results, r)
		printAppendResult(out, r)
		if r.Code != "" {
			rejected++
			if !opts.KeepGoing {
				break
			}
		}
	}

	if out.JSON() {
		if err := out.Success(results); err != nil {
			return err
		}
	}
	if rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d envelopes not cleanly appended", rejected, len(envs)))
	}
	return nil
}

func printAppendResult(out *OutputFormatter, r AppendResult) {
	if r.Code == "" {
		out.Printf("%-8s %s[%d] %s", r.Outcome, r.PublicKey, r.Index, r.Digest)
		return
	}
	out.Printf("%-8s %s[%d] [%s] %s", r.Outcome, r.PublicKey, r.Index, r.Code, r.Error)
	if r.Code == ErrCodeFanout {
		out.Printf("         run \"siglog rebuild --all\" to repair derived indexes")
	}
}
