package api

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
)

func envOptions(vars map[string]string) env.Options {
	if vars == nil {
		vars = map[string]string{}
	}
	return env.Options{Environment: vars}
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, int64(1), retryAfterSeconds(0))
	assert.Equal(t, int64(1), retryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, int64(1), retryAfterSeconds(time.Second))
	assert.Equal(t, int64(21), retryAfterSeconds(20*time.Second+time.Millisecond))
}

func TestBearerToken(t *testing.T) {
	tok, err := bearerToken("Bearer abc.def.ghi")
	assert.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", tok)

	tok, err = bearerToken("BEARER abc")
	assert.NoError(t, err)
	assert.Equal(t, "abc", tok)

	for _, h := range []string{"", "Bearer ", "Basic abc", "Bearerabc"} {
		_, err := bearerToken(h)
		assert.Error(t, err, h)
	}
}
