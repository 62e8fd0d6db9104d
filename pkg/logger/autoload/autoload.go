// Package autoload initializes the global logger from LOG_* environment
// variables as a blank import side effect.
package autoload

import (
	configx "github.com/planforge/planforge/pkg/config"
	logx "github.com/planforge/planforge/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
