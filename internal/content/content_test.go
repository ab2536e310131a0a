package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	logx "postbot/pkg/logx"
)

func TestStaticGenerator(t *testing.T) {
	text, err := Static{}.Generate(context.Background(), "space exploration")
	require.NoError(t, err)
	require.Contains(t, text, "space exploration")

	_, err = Static{}.Generate(context.Background(), "   ")
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Static{}.Generate(ctx, "space")
	require.ErrorIs(t, err, context.Canceled)
}

func TestFallbackMentionsTopic(t *testing.T) {
	require.Contains(t, Fallback("space"), `"space"`)
	require.NotEmpty(t, Fallback(""))
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(Config{Provider: "static"}, logx.Nop())
	require.NoError(t, err)
	require.IsType(t, Static{}, gen)

	_, err = New(Config{Provider: "carrier-pigeon"}, logx.Nop())
	require.Error(t, err)
}
