package server_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/langheinrich/Cherax-EE-Chat/internal/server"
	"github.com/langheinrich/Cherax-EE-Chat/internal/testhelpers"
)

// startTestServer runs a full relay server behind httptest. The hub is
// started and everything is shut down when the test ends.
func startTestServer(t *testing.T, customize func(cfg *server.Config)) (*server.Server, *httptest.Server) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.CleanupDelay = time.Hour
	cfg.RateLimit.Burst = 100
	if customize != nil {
		customize(cfg)
	}

	s := server.New(*cfg, zerolog.Nop())
	s.StartHub()
	ts := testhelpers.CreateTestServer(t, s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
	})
	return s, ts
}
