package stages

import (
	"github.com/keithlinneman/middleware-demo/internal/log"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

const (
	DemoStage   = "demo"
	DemoMessage = "This is an express app demonstrating the use of middlewares"
)

// Demo logs DemoMessage for every request that reaches it and continues.
func Demo() pipeline.Stage {
	return pipeline.Stage{Name: DemoStage, Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		ctx := ex.Context()
		log.FromContext(ctx).Info(ctx, DemoMessage)
		return pipeline.Continue
	}}
}
