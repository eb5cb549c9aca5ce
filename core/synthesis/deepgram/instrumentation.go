package deepgram

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/Cirilla-zmh/asr-demo/core/synthesis/deepgram"

var logger = otelslog.NewLogger(scopeName)
