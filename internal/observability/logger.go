package observability

import (
	"github.com/danmuck/nodectl/internal/logging"
	"github.com/rs/zerolog"
)

// InitLogger returns the component logger used by the admin HTTP surface.
func InitLogger(app string) zerolog.Logger {
	return logging.Logger().With().Str("app", app).Logger()
}
