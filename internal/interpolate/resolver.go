package interpolate

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexisbeaulieu97/conveyor/internal/logx"
	conveyorerrors "github.com/alexisbeaulieu97/conveyor/pkg/errors"
)

const (
	tokenOpen  = "${"
	tokenClose = '}'
	escapeChar = '^'
	defaultOp  = ":-"

	// maxDepth bounds nested and chained expansion so self-referential
	// tokens terminate instead of looping.
	maxDepth = 16
)

// Lookup resolves a key for a single provider prefix. A failed lookup returns
// a non-nil error; the resolver applies the token's default value or falls
// back to an empty string.
type Lookup func(ctx context.Context, key string) (string, error)

// Resolver expands ${prefix:key} tokens in configuration text. Tokens nest:
// inner tokens are expanded before the outer lookup runs. Prefix matching is
// case-insensitive and the default provider is env.
type Resolver struct {
	providers map[string]Lookup
	props     map[string]string
	log       *logx.Logger
}

// Option customises resolver construction.
type Option func(*Resolver)

// WithLogger routes unresolved-token diagnostics to the given logger.
func WithLogger(log *logx.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

// WithProperties seeds the sysProp provider with process-level properties.
func WithProperties(props map[string]string) Option {
	return func(r *Resolver) {
		for k, v := range props {
			r.props[k] = v
		}
	}
}

// New creates a Resolver with the built-in provider set.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		providers: make(map[string]Lookup),
		props:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a lookup provider under the given prefix.
func (r *Resolver) Register(prefix string, lookup Lookup) {
	if prefix == "" || lookup == nil {
		return
	}
	r.providers[strings.ToLower(prefix)] = lookup
}

// SetProperty sets a process-level property visible to the sysProp provider.
func (r *Resolver) SetProperty(key, value string) {
	r.props[key] = value
}

// Resolve expands every unescaped token in s and returns the result. A
// malformed template (unclosed token) or an expansion that exceeds the nesting
// bound yields a SecretResolutionError; individual lookup misses never do.
func (r *Resolver) Resolve(ctx context.Context, s string) (string, error) {
	return r.expand(ctx, s, 0)
}

func (r *Resolver) expand(ctx context.Context, s string, depth int) (string, error) {
	if depth > maxDepth {
		return "", conveyorerrors.NewSecretResolutionError(s, fmt.Sprintf("expansion exceeded %d passes; token cycle suspected", maxDepth))
	}
	if !strings.Contains(s, tokenOpen) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); {
		if s[i] == escapeChar && strings.HasPrefix(s[i+1:], tokenOpen) {
			end, ok := matchingBrace(s, i+1)
			if !ok {
				return "", conveyorerrors.NewSecretResolutionError(s, "unclosed token after escape character")
			}
			// The escape character is consumed; the token is emitted literally.
			b.WriteString(s[i+1 : end+1])
			i = end + 1
			continue
		}

		if strings.HasPrefix(s[i:], tokenOpen) {
			end, ok := matchingBrace(s, i)
			if !ok {
				return "", conveyorerrors.NewSecretResolutionError(s, "unclosed token")
			}
			body, err := r.expand(ctx, s[i+2:end], depth+1)
			if err != nil {
				return "", err
			}
			value, err := r.lookupToken(ctx, body, depth)
			if err != nil {
				return "", err
			}
			b.WriteString(value)
			i = end + 1
			continue
		}

		b.WriteByte(s[i])
		i++
	}

	return b.String(), nil
}

// lookupToken resolves a single fully-expanded token body.
func (r *Resolver) lookupToken(ctx context.Context, body string, depth int) (string, error) {
	lookupPart, defaultValue, hasDefault := strings.Cut(body, defaultOp)

	prefix, key, found := strings.Cut(lookupPart, ":")
	if !found {
		prefix, key = "env", lookupPart
	}

	lookup, ok := r.providers[strings.ToLower(prefix)]
	if !ok {
		// Unknown prefix: the whole body is a key for the default provider.
		lookup = r.providers["env"]
		key = lookupPart
		prefix = "env"
	}

	value, err := lookup(ctx, key)
	if err != nil {
		if hasDefault {
			return defaultValue, nil
		}
		r.diag(ctx, lookupPart, prefix, err)
		return "", nil
	}

	// Lookup results may themselves contain tokens.
	if strings.Contains(value, tokenOpen) {
		return r.expand(ctx, value, depth+1)
	}
	return value, nil
}

func (r *Resolver) diag(ctx context.Context, token, prefix string, err error) {
	if r.log == nil {
		return
	}
	r.log.Warn(ctx, "unresolved interpolation token", "token", token, "provider", prefix, "reason", err.Error())
}

// matchingBrace returns the index of the '}' closing the token that starts at
// s[open:] (which must begin with "${"). All braces count toward nesting so
// keys carrying brace-bearing payloads, such as inline JSON, stay intact.
func matchingBrace(s string, open int) (int, bool) {
	depth := 0
	for i := open + 1; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case tokenClose:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
