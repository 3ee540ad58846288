package demangle

import (
	"context"

	"github.com/ianlancetaylor/demangle"
)

// Native demangles in process. Names that are not mangled pass through
// unchanged, matching c++filt.
type Native struct {
	Options []demangle.Option
}

func (n Native) Demangle(ctx context.Context, names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = demangle.Filter(name, n.Options...)
	}
	return out, nil
}
