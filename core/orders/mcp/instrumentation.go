package mcp

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Cirilla-zmh/asr-demo/core/orders/mcp"

var logger = otelslog.NewLogger(scopeName)
