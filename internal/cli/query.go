package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/reduction"
	"github.com/roach88/siglog/internal/store"
)

// StreamOptions holds the paging flags shared by stream commands.
type StreamOptions struct {
	*RootOptions
	Reverse bool
	Limit   int
}

func (o *StreamOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Reverse, "reverse", false, "newest first")
	cmd.Flags().IntVar(&o.Limit, "limit", 0, "maximum number of items (0 = all)")
}

// EntryView is one log entry in command output.
type EntryView struct {
	Index    int64             `json:"index"`
	Digest   string            `json:"digest"`
	Envelope envelope.Envelope `json:"envelope"`
}

// ConflictView is one conflict record in command output.
type ConflictView struct {
	Index  int64  `json:"index"`
	First  string `json:"first"`
	Second string `json:"second"`
	Seen   string `json:"seen"`
}

// FollowerView is one follower edge in command output.
type FollowerView struct {
	PublicKey envelope.PublicKey `json:"publicKey"`
	Name      string             `json:"name"`
	Stop      *int64             `json:"stop,omitempty"`
}

// HeadResult is the output of head.
type HeadResult struct {
	PublicKey envelope.PublicKey `json:"publicKey"`
	Head      int64              `json:"head"`
}

// parsePublicKey validates a public key argument.
func parsePublicKey(out *OutputFormatter, s string) (envelope.PublicKey, error) {
	pk := envelope.PublicKey(s)
	if err := pk.Validate(); err != nil {
		return "", out.fail(ExitCommandError, ErrCodeInput, "invalid public key", err)
	}
	return pk, nil
}

// parseIndex parses a non-negative log index argument.
func parseIndex(out *OutputFormatter, s string) (int64, error) {
	index, err := strconv.ParseInt(s, 10, 64)
	if err == nil && index < 0 {
		err = errors.New("must be non-negative")
	}
	if err != nil {
		return 0, out.fail(ExitCommandError, ErrCodeInput, "invalid index", err)
	}
	return index, nil
}

func printEnvelopeLine(out *OutputFormatter, env envelope.Envelope) {
	out.Printf("%s[%d]\t%s\t%s", env.PublicKey, env.Message.Index,
		envelope.FormatDate(env.Message.Date), env.Message.Body.Type())
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "read <public-key> <index>",
		Short:         "Print one log entry",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			pk, err := parsePublicKey(out, args[0])
			if err != nil {
				return err
			}
			index, err := parseIndex(out, args[1])
			if err != nil {
				return err
			}

			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			env, err := s.engine.Read(cmd.Context(), pk, index)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "read failed", err)
			}
			if out.JSON() {
				return out.Success(env)
			}
			encoded, err := envelope.Encode(env)
			if err != nil {
				return out.fail(ExitFailure, ErrCodeGeneric, "encode failed", err)
			}
			out.Printf("%s", encoded)
			return nil
		},
	}
}

// NewHeadCommand creates the head command.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "head <public-key>",
		Short:         "Print the highest index of a log",
		Long:          "Print the highest index of a log. An unknown identity has head -1.",
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

			head, err := s.engine.Head(cmd.Context(), pk)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "head failed", err)
			}
			if out.JSON() {
				return out.Success(HeadResult{PublicKey: pk, Head: head})
			}
			out.Printf("%d", head)
			return nil
		},
	}
}

// NewReductionCommand creates the reduction command.
func NewReductionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reduction <public-key>",
		Short:         "Print the materialized profile of a log",
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

			state, err := s.engine.Reduction(cmd.Context(), pk)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "reduction failed", err)
			}
			return printReduction(out, state)
		},
	}
}

func printReduction(out *OutputFormatter, state reduction.State) error {
	if out.JSON() {
		return out.Success(state)
	}
	if state.LatestIndex == nil {
		out.Printf("empty log")
		return nil
	}
	out.Printf("latest:  %d at %s", *state.LatestIndex, envelope.FormatDate(*state.LatestDate))
	if state.Avatar != "" {
		out.Printf("avatar:  %s", state.Avatar)
	}
	for _, uri := range state.URIs {
		out.Printf("uri:     %s", uri)
	}
	for _, pk := range state.FollowedKeys() {
		rec, _ := state.Record(pk)
		if rec.Stop != nil {
			out.Printf("follows: %s %q through %d", pk, rec.Name, *rec.Stop)
		} else {
			out.Printf("follows: %s %q", pk, rec.Name)
		}
	}
	return nil
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           "log <public-key>",
		Short:         "List the entries of a log",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			pk, err := parsePublicKey(out, args[0])
			if err != nil {
				return err
			}
			s, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var stream store.Stream[store.Entry]
			if opts.Reverse {
				stream = s.engine.ReverseLogStream(cmd.Context(), pk)
			} else {
				stream = s.engine.LogStream(cmd.Context(), pk)
			}
			entries, err := store.Collect(stream, opts.Limit)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "log failed", err)
			}

			views := make([]EntryView, 0, len(entries))
			for _, e := range entries {
				views = append(views, EntryView{Index: e.Index, Digest: e.Digest.String(), Envelope: e.Envelope})
				out.Printf("%d\t%s\t%s\t%s", e.Index, envelope.FormatDate(e.Envelope.Message.Date),
					e.Envelope.Message.Body.Type(), e.Digest)
			}
			if out.JSON() {
				return out.Success(views)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "conflicts <public-key>",
		Short:         "List recorded forks of a log",
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

			conflicts, err := store.Collect(s.engine.ConflictStream(cmd.Context(), pk), 0)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "conflicts failed", err)
			}
			views := make([]ConflictView, 0, len(conflicts))
			for _, c := range conflicts {
				v := ConflictView{Index: c.Index, First: c.First.String(), Second: c.Second.String(), Seen: envelope.FormatDate(c.Seen)}
				views = append(views, v)
				out.Printf("%d\t%s\t%s\t%s", v.Index, v.First, v.Second, v.Seen)
			}
			if out.JSON() {
				return out.Success(views)
			}
			return nil
		},
	}
}

// NewTimelineCommand creates the timeline command.
func NewTimelineCommand(rootOpts *RootOptions) *cobra.Command {
	return newPostingsCommand(rootOpts, "timeline", "List the timeline of an identity",
		func(s *session, cmd *cobra.Command, pk envelope.PublicKey, opts store.ScanOptions) store.Stream[envelope.Envelope] {
			return s.engine.TimelineStream(cmd.Context(), pk, opts)
		})
}

// NewMentionsCommand creates the mentions command.
func NewMentionsCommand(rootOpts *RootOptions) *cobra.Command {
	return newPostingsCommand(rootOpts, "mentions", "List entries mentioning an identity",
		func(s *session, cmd *cobra.Command, pk envelope.PublicKey, opts store.ScanOptions) store.Stream[envelope.Envelope] {
			return s.engine.MentionStream(cmd.Context(), pk, opts)
		})
}

type postingsFunc func(s *session, cmd *cobra.Command, pk envelope.PublicKey, opts store.ScanOptions) store.Stream[envelope.Envelope]

func newPostingsCommand(rootOpts *RootOptions, use, short string, open postingsFunc) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:           use + " <public-key>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			pk, err := parsePublicKey(out, args[0])
			if err != nil {
				return err
			}
			s, err := openSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			envs, err := store.Collect(open(s, cmd, pk, store.ScanOptions{Reverse: opts.Reverse, Limit: opts.Limit}), 0)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), use+" failed", err)
			}
			if out.JSON() {
				if envs == nil {
					envs = []envelope.Envelope{}
				}
				return out.Success(envs)
			}
			for _, env := range envs {
				printEnvelopeLine(out, env)
			}
			return nil
		},
	}
	opts.bind(cmd)
	return cmd
}

// NewFollowersCommand creates the followers command.
func NewFollowersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "followers <public-key>",
		Short:         "List the identities following an identity",
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

			followers, err := store.Collect(s.engine.FollowerStream(cmd.Context(), pk), 0)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "followers failed", err)
			}
			views := make([]FollowerView, 0, len(followers))
			for _, f := range followers {
				views = append(views, FollowerView{PublicKey: f.PublicKey, Name: f.Name, Stop: f.Stop})
				if f.Stop != nil {
					out.Printf("%s\t%q\tthrough %d", f.PublicKey, f.Name, *f.Stop)
				} else {
					out.Printf("%s\t%q", f.PublicKey, f.Name)
				}
			}
			if out.JSON() {
				return out.Success(views)
			}
			return nil
		},
	}
}

// NewRepliesCommand creates the replies command.
func NewRepliesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "replies <public-key> <index>",
		Short:         "List the posts replying to an entry",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			pk, err := parsePublicKey(out, args[0])
			if err != nil {
				return err
			}
			index, err := parseIndex(out, args[1])
			if err != nil {
				return err
			}
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			refs, err := store.Collect(s.engine.ReplyStream(cmd.Context(), envelope.Ref{PublicKey: pk, Index: index}), 0)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "replies failed", err)
			}
			if out.JSON() {
				if refs == nil {
					refs = []envelope.Ref{}
				}
				return out.Success(refs)
			}
			for _, ref := range refs {
				out.Printf("%s[%d]", ref.PublicKey, ref.Index)
			}
			return nil
		},
	}
}

// NewPublicKeysCommand creates the publickeys command.
func NewPublicKeysCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "publickeys",
		Short:         "List every identity with a log",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			s, err := openSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := store.Collect(s.engine.PublicKeyStream(cmd.Context()), 0)
			if err != nil {
				return out.fail(ExitFailure, ErrorCode(err), "publickeys failed", err)
			}
			if out.JSON() {
				if keys == nil {
					keys = []envelope.PublicKey{}
				}
				return out.Success(keys)
			}
			for _, pk := range keys {
				out.Printf("%s", pk)
			}
			return nil
		},
	}
}
