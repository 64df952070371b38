package observability

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInitLoggerParsesLevel(t *testing.T) {
	logger := InitLogger("test", "warn")
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
}

func TestInitLoggerFallsBackToInfo(t *testing.T) {
	logger := InitLogger("test", "shouty")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}
