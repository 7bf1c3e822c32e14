package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveUsesTemplateForMode(t *testing.T) {
	r := NewResolver(map[string]string{
		"background": "Replace the background behind %s with a studio backdrop",
	})
	out, err := r.Resolve(json.RawMessage(`{"text":"a ceramic mug","mode":"background"}`))
	require.NoError(t, err)
	require.Equal(t, "Replace the background behind A Ceramic Mug with a studio backdrop", out)
}

func TestResolveStyleSuffix(t *testing.T) {
	r := NewResolver(nil)
	out, err := r.Resolve(json.RawMessage(`{"title":"vintage camera","style":"cinematic"}`))
	require.NoError(t, err)
	require.Equal(t, "Vintage Camera, cinematic style", out)
}

func TestResolveFailures(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve(nil)
	require.Error(t, err)

	_, err = r.Resolve(json.RawMessage(`not-json`))
	require.Error(t, err)

	_, err = r.Resolve(json.RawMessage(`{"style":"moody"}`))
	require.Error(t, err)
}
