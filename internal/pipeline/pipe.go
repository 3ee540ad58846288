package pipeline

import (
	"fmt"
	"time"
)

// Pipe is one stage of a run.
type Pipe interface {
	fmt.Stringer

	// Run the stage.
	Run(ctx *Context) error
}

// Skipper is implemented by pipes that only run under some configurations.
type Skipper interface {
	Skip(ctx *Context) bool
}

// Full is every stage in dependency order, as run by the "run" command.
var Full = []Pipe{
	Symbols{},
	Typeinfos{},
	VTables{},
	Headers{},
	Graph{},
	Summary{},
}

// Execute runs pipes in order and stops at the first fatal error.
func Execute(ctx *Context, pipes ...Pipe) error {
	for _, p := range pipes {
		if s, ok := p.(Skipper); ok && s.Skip(ctx) {
			ctx.Log.Debugf("skipped %s", p)
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := ctx.Log.WithField("pipe", p.String())
		entry.Info("running")
		start := time.Now()
		if err := p.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		entry.WithField("took", time.Since(start).Round(time.Millisecond)).Debug("done")
	}
	return nil
}
