package testutil

import (
	"github.com/roach88/siglog/internal/canonical"
	"github.com/roach88/siglog/internal/envelope"
)

// Post builds a post body. Each mentioned identity becomes a content element.
func Post(text string, mentions ...envelope.PublicKey) envelope.Body {
	content := canonical.Array{canonical.String(text)}
	for _, pk := range mentions {
		content = append(content, canonical.NewObject(
			canonical.O("type", canonical.String("content")),
			canonical.O("publicKey", canonical.String(pk)),
		))
	}
	return envelope.NewBody("post", canonical.O("content", content))
}

// Reply builds a post body whose parent is ref.
func Reply(parent envelope.Ref, text string, mentions ...envelope.PublicKey) envelope.Body {
	body := Post(text, mentions...)
	body["parent"] = canonical.NewObject(
		canonical.O("publicKey", canonical.String(parent.PublicKey)),
		canonical.O("index", canonical.Int(parent.Index)),
	)
	return body
}

// Follow builds a follow body.
func Follow(target envelope.PublicKey, name string) envelope.Body {
	return envelope.NewBody("follow",
		canonical.O("publicKey", canonical.String(target)),
		canonical.O("name", canonical.String(name)),
	)
}

// Unfollow builds an unfollow body stopping after index.
func Unfollow(target envelope.PublicKey, index int64) envelope.Body {
	return envelope.NewBody("unfollow",
		canonical.O("publicKey", canonical.String(target)),
		canonical.O("index", canonical.Int(index)),
	)
}

// Announce builds an announce body.
func Announce(uri string) envelope.Body {
	return envelope.NewBody("announce", canonical.O("uri", canonical.String(uri)))
}

// Avatar builds an avatar body.
func Avatar(uri string) envelope.Body {
	return envelope.NewBody("avatar", canonical.O("uri", canonical.String(uri)))
}

// Introduction builds an introduction of two identities.
func Introduction(first, second envelope.PublicKey) envelope.Body {
	return envelope.NewBody("introduction",
		canonical.O("firstPublicKey", canonical.String(first)),
		canonical.O("secondPublicKey", canonical.String(second)),
	)
}
