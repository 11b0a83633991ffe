package middleware

import (
	"github.com/danielgtaylor/huma/v2"
)

// Func is the huma middleware signature.
type Func = func(ctx huma.Context, next func(huma.Context))

// Chain is an immutable middleware stack. Route groups derive their own
// stacks from it, so one group never sees another group's additions.
type Chain struct {
	base huma.Middlewares
}

func NewChain(base ...Func) Chain {
	return Chain{base: append(huma.Middlewares(nil), base...)}
}

// With returns a fresh slice holding the chain followed by extra.
func (c Chain) With(extra ...Func) huma.Middlewares {
	out := make(huma.Middlewares, 0, len(c.base)+len(extra))
	out = append(out, c.base...)
	return append(out, extra...)
}

// Extend returns a new chain that runs extra after the current stack.
func (c Chain) Extend(extra ...Func) Chain {
	return Chain{base: c.With(extra...)}
}

func (c Chain) Len() int {
	return len(c.base)
}
