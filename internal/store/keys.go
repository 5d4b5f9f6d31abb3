package store

import (
	"fmt"
	"strings"

	"github.com/roach88/siglog/internal/envelope"
	"github.com/roach88/siglog/internal/kv"
)

// Namespaces.
const (
	nsLogs       = "logs"
	nsEnvelopes  = "envelopes"
	nsReductions = "reductions"
	nsConflicts  = "conflicts"
	nsPublicKeys = "publicKeys"
	nsFollowers  = "followers"
	nsTimelines  = "timelines"
	nsMentions   = "mentions"
	nsReplies    = "replies"
)

// postingSeparator joins the parts of a timeline or mention key suffix.
const postingSeparator = "@"

func logKey(pk envelope.PublicKey, index int64) []byte {
	return kv.Key(nsLogs, string(pk), kv.EncodeIndex(index))
}

func envelopeKey(d envelope.Digest) []byte {
	return kv.Key(nsEnvelopes, d.String())
}

func reductionKey(pk envelope.PublicKey) []byte {
	return kv.Key(nsReductions, string(pk))
}

func conflictKey(c Conflict) []byte {
	return kv.Key(nsConflicts, string(c.PublicKey), kv.EncodeIndex(c.Index), c.First.String()+":"+c.Second.String())
}

func publicKeyKey(pk envelope.PublicKey) []byte {
	return kv.Key(nsPublicKeys, string(pk))
}

func followerKey(followed, follower envelope.PublicKey) []byte {
	return kv.Key(nsFollowers, string(followed), string(follower))
}

func replyKey(parent, child envelope.Ref) []byte {
	return kv.Key(nsReplies, string(parent.PublicKey), kv.EncodeIndex(parent.Index), string(child.PublicKey), kv.EncodeIndex(child.Index))
}

// postingSuffix orders timeline and mention entries by date, then sender,
// then index.
func postingSuffix(env envelope.Envelope) string {
	return strings.Join([]string{
		envelope.FormatDate(env.Message.Date),
		string(env.PublicKey),
		kv.EncodeIndex(env.Message.Index),
	}, postingSeparator)
}

func timelineKey(recipient envelope.PublicKey, env envelope.Envelope) []byte {
	return kv.Key(nsTimelines, string(recipient), postingSuffix(env))
}

func mentionKey(recipient envelope.PublicKey, env envelope.Envelope) []byte {
	return kv.Key(nsMentions, string(recipient), postingSuffix(env))
}

// lastSegment returns the final segment of a composite key.
func lastSegment(key []byte) string {
	s := string(key)
	if i := strings.LastIndex(s, kv.Separator); i >= 0 {
		return s[i+1:]
	}
	return s
}

// parseConflictKey recovers the index and digest pair of a conflict key.
func parseConflictKey(key []byte) (int64, envelope.Digest, envelope.Digest, error) {
	var first, second envelope.Digest
	parts := kv.Split(key)
	if len(parts) != 4 {
		return 0, first, second, fmt.Errorf("conflict key %q: want 4 segments", key)
	}
	index, err := kv.DecodeIndex(parts[2])
	if err != nil {
		return 0, first, second, fmt.Errorf("conflict key %q: %w", key, err)
	}
	a, b, ok := strings.Cut(parts[3], ":")
	if !ok {
		return 0, first, second, fmt.Errorf("conflict key %q: missing pair separator", key)
	}
	if first, err = envelope.ParseDigest(a); err != nil {
		return 0, first, second, err
	}
	if second, err = envelope.ParseDigest(b); err != nil {
		return 0, first, second, err
	}
	return index, first, second, nil
}

// parseReplyKey recovers the child reference of a reply key.
func parseReplyKey(key []byte) (envelope.Ref, error) {
	parts := kv.Split(key)
	if len(parts) != 5 {
		return envelope.Ref{}, fmt.Errorf("reply key %q: want 5 segments", key)
	}
	index, err := kv.DecodeIndex(parts[4])
	if err != nil {
		return envelope.Ref{}, fmt.Errorf("reply key %q: %w", key, err)
	}
	return envelope.Ref{PublicKey: envelope.PublicKey(parts[3]), Index: index}, nil
}
