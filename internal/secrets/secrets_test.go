package secrets

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccessor struct {
	payloads map[string][]byte
}

func (f *fakeAccessor) Access(_ context.Context, name string) ([]byte, error) {
	data, ok := f.payloads[name]
	if !ok {
		return nil, fmt.Errorf("access secret %q: not found", name)
	}
	return data, nil
}

func (f *fakeAccessor) Close() error { return nil }

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("okta-api-key")
	require.NoError(t, err)
	assert.Equal(t, Ref{Secret: "okta-api-key", Version: "latest"}, ref)

	ref, err = ParseRef("okta-api-key:7")
	require.NoError(t, err)
	assert.Equal(t, Ref{Secret: "okta-api-key", Version: "7"}, ref)
}

func TestParseRefRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "  ", ":latest", "name:"} {
		_, err := ParseRef(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestRefResourceName(t *testing.T) {
	ref := Ref{Secret: "fivetran-api-key", Version: "latest"}
	assert.Equal(t, "projects/pipelines-prod/secrets/fivetran-api-key/versions/latest",
		ref.ResourceName("pipelines-prod"))
}

func TestAccessStringTrims(t *testing.T) {
	fake := &fakeAccessor{payloads: map[string][]byte{
		"projects/p/secrets/s/versions/latest": []byte("token-value\n"),
	}}

	got, err := AccessString(context.Background(), fake, "projects/p/secrets/s/versions/latest")
	require.NoError(t, err)
	assert.Equal(t, "token-value", got)

	_, err = AccessString(context.Background(), fake, "projects/p/secrets/missing/versions/latest")
	require.Error(t, err)
}
