package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Cirilla-zmh/asr-demo/core"

var logger = otelslog.NewLogger(scopeName)
