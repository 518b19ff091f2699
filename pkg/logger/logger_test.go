package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name: "json_stdout",
			config: Config{
				Level:     "info",
				Format:    "json",
				Output:    "stdout",
				Component: "heatppm",
			},
			wantErr: false,
		},
		{
			name: "console_format",
			config: Config{
				Level:     "debug",
				Format:    "console",
				Output:    "stdout",
				Component: "unidled",
			},
			wantErr: false,
		},
		{
			name: "invalid_level_defaults_to_info",
			config: Config{
				Level:     "invalid",
				Format:    "json",
				Output:    "stdout",
				Component: "heatppm",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("InitLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input)
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoggingFunctions(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).With().Timestamp().Logger()

	t.Run("Debug", func(t *testing.T) {
		buf.Reset()
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		Debug("controller", "debug message")
		if buf.Len() == 0 {
			t.Log("Debug() did not write (debug level might be filtered)")
		}
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	t.Run("Info", func(t *testing.T) {
		buf.Reset()
		Info("controller", "info message")
		if buf.Len() == 0 {
			t.Error("Info() did not write to log")
		}
	})

	t.Run("Warn", func(t *testing.T) {
		buf.Reset()
		Warn("controller", "warning message")
		if buf.Len() == 0 {
			t.Error("Warn() did not write to log")
		}
	})

	t.Run("Error", func(t *testing.T) {
		buf.Reset()
		Error("controller", "error message", errors.New("test error"))
		if buf.Len() == 0 {
			t.Error("Error() did not write to log")
		}
	})

	t.Run("SafeInfo", func(t *testing.T) {
		buf.Reset()
		fields := map[string]interface{}{
			"avg_millidegrees": 70000,
			"target":           71000,
		}
		SafeInfo("controller", "plateau status", fields)
		if buf.Len() == 0 {
			t.Error("SafeInfo() did not write to log")
		}
	})
}

func TestSafeLogging(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).Level(zerolog.DebugLevel).With().Timestamp().Logger()

	fields := map[string]interface{}{
		"phase": 2,
		"delta": 600000000,
	}

	t.Run("SafeDebug", func(t *testing.T) {
		buf.Reset()
		SafeDebug("pps", "phase advance", fields)
		if buf.Len() == 0 {
			t.Error("SafeDebug() did not write to log")
		}
	})

	t.Run("SafeWarn", func(t *testing.T) {
		buf.Reset()
		SafeWarn("pps", "lock lost", fields)
		if buf.Len() == 0 {
			t.Error("SafeWarn() did not write to log")
		}
	})

	t.Run("SafeError", func(t *testing.T) {
		buf.Reset()
		SafeError("pps", "fetch failed", errors.New("test"), fields)
		if buf.Len() == 0 {
			t.Error("SafeError() did not write to log")
		}
	})
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).With().Timestamp().Logger()

	fields := map[string]interface{}{
		"core": 2,
	}

	contextLogger := WithFields("rtsched", fields)
	contextLogger.Info().Msg("test message")

	if buf.Len() == 0 {
		t.Error("WithFields() logger did not write")
	}

	output := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("core")) {
		t.Error("WithFields() did not include fields: " + output)
	}
}

func TestEdgeLog(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).Level(zerolog.DebugLevel).With().Timestamp().Logger()

	Edge("phase transition", map[string]interface{}{"state": 1})

	if buf.Len() == 0 {
		t.Error("Edge() did not write to log")
	}
}

func TestPlateauLog(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).With().Timestamp().Logger()

	Plateau(map[string]interface{}{"avg": 71000.0, "freq": -3.21})

	if buf.Len() == 0 {
		t.Error("Plateau() did not write to log")
	}
}

func TestStartupShutdown(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf).With().Timestamp().Logger()

	t.Run("Startup", func(t *testing.T) {
		buf.Reset()
		config := map[string]interface{}{
			"wait":     5,
			"max_temp": 85000,
		}
		Startup("v1.0.0", config)

		if buf.Len() == 0 {
			t.Error("Startup() did not write to log")
		}

		output := buf.String()
		if !bytes.Contains(buf.Bytes(), []byte("v1.0.0")) {
			t.Error("Startup() missing version info: " + output)
		}
	})

	t.Run("Shutdown", func(t *testing.T) {
		buf.Reset()
		Shutdown("graceful shutdown")

		if buf.Len() == 0 {
			t.Error("Shutdown() did not write to log")
		}

		output := buf.String()
		if !bytes.Contains(buf.Bytes(), []byte("graceful shutdown")) {
			t.Error("Shutdown() missing reason: " + output)
		}
	})
}
