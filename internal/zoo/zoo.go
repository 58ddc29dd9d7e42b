// Package zoo defines the exportable model architectures: an object
// detector with instance segmentation, a CLIP vision-language embedder and
// a text-conditioned segmentation model.
//
// Each architecture is assembled from nn modules over an injected backend.
// Building a model on a trace.Tracer captures its inference graph; the
// Trace methods declare the named inputs and outputs and run one forward
// pass with placeholder data.
//
// Exported graphs declare concrete dims on every input and output. Reshape
// targets are captured as constant initializers, so the graph is only valid
// for the shapes it was traced with and a symbolic batch axis would
// misdeclare it.
package zoo

import (
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/trace"
)

// registerParams registers module parameters on the tracer under a dotted
// prefix, mirroring checkpoint key layout.
func registerParams(tr *trace.Tracer, prefix string, params []*nn.Parameter) {
	for _, p := range params {
		name := p.Name()
		if prefix != "" {
			name = prefix + "." + name
		}
		tr.RegisterParameter(name, p.Tensor())
	}
}
