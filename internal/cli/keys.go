package cli

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/siglog/internal/canonical"
	"github.com/roach88/siglog/internal/envelope"
)

// KeygenResult is the output of keygen.
type KeygenResult struct {
	PublicKey envelope.PublicKey `json:"publicKey"`
	Seed      string             `json:"seed"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new identity",
		Long: `Generate an ed25519 identity.

The seed is the secret: keep it private and pass it to "siglog sign --seed".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			kp, err := envelope.MakeKeyPair()
			if err != nil {
				return out.fail(ExitCommandError, ErrCodeGeneric, "failed to generate key", err)
			}
			result := KeygenResult{PublicKey: kp.PublicKey, Seed: hex.EncodeToString(kp.SecretKey.Seed())}
			if out.JSON() {
				return out.Success(result)
			}
			out.Printf("public key: %s", result.PublicKey)
			out.Printf("seed:       %s", result.Seed)
			return nil
		},
	}
}

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions
	Seed  string
	Index int64
	Date  string
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign [body.json]",
		Short: "Sign a message body into an envelope",
		Long: `Sign a JSON message body and print the envelope.

The body is read from the file argument or from stdin and must be a JSON
object with a string "type". The envelope is printed in canonical form.

Examples:
  siglog sign --seed $SEED --index 0 post.json
  echo '{"type":"post","content":["hi"]}' | siglog sign --seed $SEED --index 1`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Seed, "seed", os.Getenv("SIGLOG_SEED"), "hex ed25519 seed (default $SIGLOG_SEED)")
	cmd.Flags().Int64Var(&opts.Index, "index", 0, "log index of the message")
	cmd.Flags().StringVar(&opts.Date, "date", "", "RFC 3339 message date (default now)")

	return cmd
}

func runSign(opts *SignOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	kp, err := keyPairFromHex(opts.Seed)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "invalid --seed", err)
	}

	date := time.Now().UTC().Truncate(time.Millisecond)
	if opts.Date != "" {
		if date, err = envelope.ParseDate(opts.Date); err != nil {
			return out.fail(ExitCommandError, ErrCodeInput, "invalid --date", err)
		}
	}

	data, err := readInput(cmd, args)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "failed to read body", err)
	}
	var body canonical.Object
	if err := json.Unmarshal(data, &body); err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "invalid body", err)
	}

	env, err := envelope.Sign(envelope.Message{Index: opts.Index, Date: date, Body: envelope.Body(body)}, kp.SecretKey)
	if err != nil {
		return out.fail(ExitFailure, ErrorCode(err), "failed to sign", err)
	}
	if err := envelope.Validate(env); err != nil {
		return out.fail(ExitFailure, ErrCodeInvalid, "invalid envelope", err)
	}
	if out.JSON() {
		return out.Success(env)
	}
	encoded, err := envelope.Encode(env)
	if err != nil {
		return out.fail(ExitFailure, ErrCodeGeneric, "failed to encode envelope", err)
	}
	fmt.Fprintln(out.Writer, string(encoded))
	return nil
}

// VerifyResult reports one verified envelope.
type VerifyResult struct {
	PublicKey envelope.PublicKey `json:"publicKey"`
	Index     int64              `json:"index"`
	Digest    string             `json:"digest"`
	Valid     bool               `json:"valid"`
	Reason    string             `json:"reason,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [envelopes.json]",
		Short: "Check envelope shape and signatures",
		Long: `Verify a stream of JSON envelopes read from the file argument or stdin.

Exit codes:
  0 - Every envelope verifies
  1 - At least one envelope is invalid
  2 - Command error (unreadable input)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}
}

func runVerify(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	envs, err := readEnvelopes(cmd, args)
	if err != nil {
		return out.fail(ExitCommandError, ErrCodeInput, "failed to read envelopes", err)
	}

	results := make([]VerifyResult, 0, len(envs))
	invalid := 0
	for _, env := range envs {
		r := VerifyResult{PublicKey: env.PublicKey, Index: env.Message.Index, Valid: true}
		if d, err := envelope.Hash(env); err == nil {
			r.Digest = d.String()
		}
		if err := verifyEnvelope(env); err != nil {
			r.Valid = false
			r.Reason = err.Error()
			invalid++
		}
		results = append(results, r)
		if r.Valid {
			out.Printf("ok      %s[%d]", r.PublicKey, r.Index)
		} else {
			out.Printf("INVALID %s[%d]: %s", r.PublicKey, r.Index, r.Reason)
		}
	}
	if out.JSON() {
		if err := out.Success(results); err != nil {
			return err
		}
	}
	if invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d envelopes invalid", invalid, len(envs)))
	}
	return nil
}

// errBadSignature is reported for envelopes whose signature does not verify.
var errBadSignature = errors.New("signature does not verify")

// verifyEnvelope checks shape, then the signature.
func verifyEnvelope(env envelope.Envelope) error {
	if err := envelope.Validate(env); err != nil {
		return err
	}
	if !envelope.Verify(env) {
		return errBadSignature
	}
	return nil
}

func keyPairFromHex(s string) (envelope.KeyPair, error) {
	if s == "" {
		return envelope.KeyPair{}, errors.New("seed is required")
	}
	seed, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return envelope.KeyPair{}, err
	}
	return envelope.KeyPairFromSeed(seed)
}

// readInput returns the contents of args[0], or stdin when args is empty or
// "-".
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

// readEnvelopes decodes a whitespace separated stream of JSON envelopes.
func readEnvelopes(cmd *cobra.Command, args []string) ([]envelope.Envelope, error) {
	data, err := readInput(cmd, args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	var envs []envelope.Envelope
	for {
		var env envelope.Envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			return envs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", len(envs), err)
		}
		envs = append(envs, env)
	}
}
