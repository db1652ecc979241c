package executors

import (
	"time"

	"github.com/Dalaqa25/automation-runner/internal/expressions"
	"github.com/Dalaqa25/automation-runner/internal/isolation"
)

// BuiltinConfig bundles the shared engines and resource limits the
// built-in executors are constructed from.
type BuiltinConfig struct {
	HTTP        HTTPConfig
	CodeTimeout time.Duration
	FSLimits    isolation.ResourceLimits
	Isolator    isolation.Isolator
	CEL         *expressions.CELEngine
	Expr        *expressions.ExprEngine
	JQ          *expressions.GoJQEngine
}

// RegisterBuiltins registers every reference node type in reg.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	executors := []Executor{
		NewManual(),
		NewSchedule(),
		NewFSTrigger(cfg.FSLimits),
		NewHTTPRequest(cfg.HTTP),
		NewCommand(cfg.Isolator),
		NewCode(cfg.Expr, cfg.CodeTimeout),
		NewJQ(cfg.JQ),
		NewIf(cfg.CEL),
		NewSwitch(cfg.CEL),
		NewSet(),
		NewMerge(),
		NewLimit(),
		NewWait(),
		NewSplitInBatches(),
	}
	for _, e := range executors {
		if err := reg.Register(e); err != nil {
			return err
		}
	}
	return nil
}
