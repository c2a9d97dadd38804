package v1

import (
	"context"
	"iter"

	"github.com/gosuda/relay/internal/pipeline"
)

// ChatPipeline abstracts the relay pipeline for handler testing.
// *pipeline.Pipeline satisfies this interface.
type ChatPipeline interface {
	Name() string
	Pipe(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
	Events(res *pipeline.Result) iter.Seq[pipeline.Event]
}
