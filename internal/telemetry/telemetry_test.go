package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), Config{ServiceName: "isq"})
	require.NoError(t, err)
	assert.Nil(t, tel)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestParseHeaders(t *testing.T) {
	assert.Empty(t, parseHeaders(""))
	assert.Equal(t,
		map[string]string{"Authorization": "Bearer abc", "x-team": "search"},
		parseHeaders("Authorization=Bearer abc, x-team = search,broken"),
	)
	assert.Equal(t, map[string]string{"k": "a=b"}, parseHeaders("k=a=b"))
}
