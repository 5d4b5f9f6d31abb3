// Package mentions extracts the identities an envelope refers to.
package mentions

import (
	"github.com/roach88/siglog/internal/canonical"
	"github.com/roach88/siglog/internal/envelope"
)

// Mention types.
const (
	TypeContent      = "content"
	TypeIntroduction = "introduction"
	TypeFollow       = "follow"
	TypeUnfollow     = "unfollow"
)

// Mention is one identity referenced by an envelope.
type Mention struct {
	Type      string             `json:"type"`
	PublicKey envelope.PublicKey `json:"publicKey"`
}

// In returns every identity env refers to, in body order, without
// duplicates. It never inspects anything but the body.
//
//   - post content: any element of body.content (recursively) carrying a
//     publicKey
//   - introduction: firstPublicKey and secondPublicKey
//   - follow and unfollow: the target publicKey
func In(env envelope.Envelope) []Mention {
	body := env.Message.Body
	var out []Mention
	seen := make(map[Mention]struct{})
	add := func(typ string, pk envelope.PublicKey) {
		if pk == "" {
			return
		}
		m := Mention{Type: typ, PublicKey: pk}
		if _, dup := seen[m]; dup {
			return
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}

	if content, ok := body.Array("content"); ok {
		walkContent(content, func(pk envelope.PublicKey) { add(TypeContent, pk) })
	}

	switch typ := body.Type(); typ {
	case TypeIntroduction:
		first, _ := body.PublicKey("firstPublicKey")
		second, _ := body.PublicKey("secondPublicKey")
		add(TypeIntroduction, first)
		add(TypeIntroduction, second)
	case TypeFollow, TypeUnfollow:
		target, _ := body.PublicKey("publicKey")
		add(typ, target)
	}
	return out
}

func walkContent(arr canonical.Array, emit func(envelope.PublicKey)) {
	for _, elem := range arr {
		obj, ok := elem.(canonical.Object)
		if !ok {
			continue
		}
		if pk, ok := obj["publicKey"].(canonical.String); ok && pk != "" {
			emit(envelope.PublicKey(pk))
		}
		if nested, ok := obj["content"].(canonical.Array); ok {
			walkContent(nested, emit)
		}
	}
}

// Mentioned reports whether env mentions pk in any way.
func Mentioned(pk envelope.PublicKey, env envelope.Envelope) bool {
	for _, m := range In(env) {
		if m.PublicKey == pk {
			return true
		}
	}
	return false
}

// HasFollowChange reports whether ms includes a follow or unfollow.
func HasFollowChange(ms []Mention) bool {
	for _, m := range ms {
		if m.Type == TypeFollow || m.Type == TypeUnfollow {
			return true
		}
	}
	return false
}
