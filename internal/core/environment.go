package core

import (
	"strings"

	"github.com/rs/zerolog"
)

// Environment is the deployment environment the engine runs in.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

func (e Environment) String() string {
	return string(e)
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}

// DefaultLogLevel is the level used when LOG_LEVEL is not set.
func (e Environment) DefaultLogLevel() zerolog.Level {
	switch e {
	case Production:
		return zerolog.InfoLevel
	case Testing:
		return zerolog.WarnLevel
	default:
		return zerolog.DebugLevel
	}
}

// ParseEnvironment maps APP_ENV onto a known environment. Anything unrecognised
// runs as Development.
func ParseEnvironment(v string) Environment {
	switch Environment(strings.ToLower(strings.TrimSpace(v))) {
	case Production, "prod":
		return Production
	case Testing, "test":
		return Testing
	default:
		return Development
	}
}
