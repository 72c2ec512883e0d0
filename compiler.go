package lirjit

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/lirjit/lirjit/internal/arch"
	"github.com/lirjit/lirjit/internal/buffer"
)

// Compiler accumulates emitted ops for a single generated function. It
// is not safe for concurrent use (spec.md §5): build one function body
// per Compiler, on one goroutine, then call GenerateCode.
type Compiler struct {
	backend      arch.Backend
	sizeHint     int
	debugAsserts bool
	log          *logrus.Logger
	generated    bool
}

// NewCompiler returns a Compiler targeting the architecture this
// binary was built for (spec.md §6 create_compiler; architecture
// selection is a compile-time build-tag choice, per SPEC_FULL.md's
// ambient Configuration row, not a runtime parameter).
func NewCompiler(opts ...Option) *Compiler {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	c := &Compiler{log: log}
	for _, opt := range opts {
		opt(c)
	}
	entry := log.WithField("component", "lirjit")
	c.backend = newBackend(entry)
	if c.sizeHint > 0 {
		c.backend.Context().Buf = buffer.NewSized(c.sizeHint)
	}
	return c
}

// SetVerbose turns on Debug-level tracing of every emitted op and
// relocation decision, written to w.
func (c *Compiler) SetVerbose(w io.Writer) {
	c.log.SetOutput(w)
	c.log.SetLevel(logrus.DebugLevel)
	c.backend.Context().Verbose = true
}

// Free releases the Compiler's resources. It is a no-op kept for API
// symmetry with (*Code).Free: a Compiler holds nothing but GC-managed
// memory until GenerateCode allocates executable pages.
func (c *Compiler) Free() {}

// Err reports the sticky error latched by the first failing Emit call,
// or nil if every call so far has succeeded.
func (c *Compiler) Err() error {
	if c.backend.Context().Err == nil {
		return nil
	}
	return newError(classify(c.backend.Context().Err), "emit", c.backend.Context().Err)
}

func (c *Compiler) checkNotGenerated(op string) error {
	if c.generated {
		return newError(Compiled, op, nil)
	}
	return nil
}

// classify maps a bare internal error into the closest ErrorKind; the
// internal packages return plain errors since they have no reason to
// depend on the root package's exported taxonomy, wrapping the one
// sentinel (arch.ErrBadArgument) that distinguishes a caller mistake
// from a genuinely unencodable op/operand.
func classify(err error) ErrorKind {
	if errors.Is(err, arch.ErrBadArgument) {
		return BadArgument
	}
	return Unsupported
}
