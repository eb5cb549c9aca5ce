package server

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Cirilla-zmh/asr-demo/server"

var logger = otelslog.NewLogger(scopeName)
