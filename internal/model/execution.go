package model

// Operation is the mode the application runs in.
type Operation int

const (
	// Run starts local processes and containers.
	Run Operation = iota
	// Publish emits a manifest and starts nothing.
	Publish
)

func (o Operation) String() string {
	if o == Publish {
		return "publish"
	}
	return "run"
}

// ExecutionContext records the operation. It is fixed when the builder is
// created and handed explicitly to every component that branches on it.
type ExecutionContext struct {
	op Operation
}

// NewExecutionContext returns an execution context for op.
func NewExecutionContext(op Operation) *ExecutionContext {
	return &ExecutionContext{op: op}
}

// Operation returns the current operation.
func (e *ExecutionContext) Operation() Operation { return e.op }

// IsRunMode reports whether resources are started locally.
func (e *ExecutionContext) IsRunMode() bool { return e.op == Run }

// IsPublishMode reports whether a manifest is being produced.
func (e *ExecutionContext) IsPublishMode() bool { return e.op == Publish }
