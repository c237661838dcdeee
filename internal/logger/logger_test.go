package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
		"panic": zapcore.PanicLevel,
		"fatal": zapcore.FatalLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestFromContext_FallsBackToGlobal verifies scoped loggers are returned and the global one is used otherwise.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))

	scoped := New(zapcore.DebugLevel).Named("scoped")
	ctx := ToContext(context.Background(), scoped)
	require.Same(t, scoped, FromContext(ctx))

	named := WithName(ctx, "child")
	require.NotSame(t, scoped, FromContext(named))
}

// TestNewWithFormat_UnknownFallsBack ensures unknown formats still produce a usable logger.
func TestNewWithFormat_UnknownFallsBack(t *testing.T) {
	t.Parallel()

	require.NotNil(t, NewWithFormat(zapcore.InfoLevel, FormatJSON))
	require.NotNil(t, NewWithFormat(zapcore.InfoLevel, "xml"))
}
