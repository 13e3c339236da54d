package lg

import (
	"context"
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg := RegisterFlags(fs, "batchservice")

	require.NoError(t, fs.Parse([]string{"-debug", "-log-format", "console", "src", "a.txt"}))

	assert.True(t, cfg.Debug)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "batchservice", cfg.ServiceName)
	assert.Equal(t, []string{"src", "a.txt"}, fs.Args())
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, defaultLogger{}, FromContext(context.Background()))

	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "", flatten())

	out := flatten(String("job", "dst_a_pgp"), Int("attempt", 2), Err(errors.New("boom")))
	assert.Contains(t, out, "dst_a_pgp")
	assert.Contains(t, out, "boom")
}

func TestNewFallsBackToJSON(t *testing.T) {
	l := New(&Config{ServiceName: "test", Format: "yaml"})
	require.NotNil(t, l)
	l.With(String("k", "v")).Info("hello")
}
