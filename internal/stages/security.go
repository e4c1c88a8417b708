package stages

import (
	"github.com/keithlinneman/middleware-demo/internal/httpmw"
	"github.com/keithlinneman/middleware-demo/internal/pipeline"
)

const SecurityHeadersStage = "security-headers"

// SecurityHeaders sets the protective header bundle on the pending response.
// httpserver already applies the same bundle outside the pipeline so that
// responses from earlier stages carry it too; this stage keeps its place in
// the stage order and restores any header an earlier stage removed.
func SecurityHeaders() pipeline.Stage {
	return pipeline.Stage{Name: SecurityHeadersStage, Run: func(ex *pipeline.Exchange) pipeline.Outcome {
		httpmw.ApplySecurityHeaders(ex.W.Header())
		return pipeline.Continue
	}}
}
