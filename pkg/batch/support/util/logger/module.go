package logger

import "go.uber.org/fx"

// Module routes fx's own lifecycle logging through this package.
var Module = fx.Options(
	fx.WithLogger(NewFxLoggerAdapter),
)
