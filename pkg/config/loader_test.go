package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepdeck/prepdeck/pkg/config"
)

func TestLoad(t *testing.T) {
	t.Run("parses env tags", func(t *testing.T) {
		type testConfig struct {
			Name string `env:"CONFIG_TEST_NAME" envDefault:"fallback"`
			Port int    `env:"CONFIG_TEST_PORT" envDefault:"8080"`
		}

		t.Setenv("CONFIG_TEST_NAME", "prepdeck")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "prepdeck", cfg.Name)
		assert.Equal(t, 8080, cfg.Port)
	})

	t.Run("required variable missing", func(t *testing.T) {
		type testConfig struct {
			Secret string `env:"CONFIG_TEST_MISSING_SECRET,required"`
		}

		var cfg testConfig
		err := config.Load(&cfg)
		require.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		type testConfig struct{}
		err := config.Load[testConfig](nil)
		require.ErrorIs(t, err, config.ErrNilPointer)
	})

	t.Run("must load panics on failure", func(t *testing.T) {
		type testConfig struct {
			Secret string `env:"CONFIG_TEST_MISSING_SECRET2,required"`
		}

		assert.Panics(t, func() {
			var cfg testConfig
			config.MustLoad(&cfg)
		})
	})
}
