package cmds

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/sardonic/pkg/auth"
	"github.com/go-go-golems/sardonic/pkg/inference/generator"
	"github.com/go-go-golems/sardonic/pkg/inference/provider"
	chatstore "github.com/go-go-golems/sardonic/pkg/persistence/chatstore"
	"github.com/go-go-golems/sardonic/pkg/redisstream"
	"github.com/go-go-golems/sardonic/pkg/webchat"
)

func TestOpenStore(t *testing.T) {
	s, err := openStore(StoreSettings{}, true)
	require.NoError(t, err)
	_, ok := s.(*chatstore.InMemoryStore)
	require.True(t, ok)

	_, err = openStore(StoreSettings{}, false)
	require.Error(t, err)

	s, err = openStore(StoreSettings{DB: filepath.Join(t.TempDir(), "chat.db")}, false)
	require.NoError(t, err)
	_, ok = s.(*chatstore.SQLiteStore)
	require.True(t, ok)
	require.NoError(t, s.Close())
}

func TestPersonaFromSettings(t *testing.T) {
	p, err := personaFromSettings(provider.Settings{})
	require.NoError(t, err)
	require.Equal(t, generator.DefaultPersona(), p)

	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("degraded_reply: offline\n"), 0o600))
	p, err = personaFromSettings(provider.Settings{PersonaFile: path, SystemPrompt: "be kind"})
	require.NoError(t, err)
	require.Equal(t, "offline", p.DegradedReply)
	require.Equal(t, "be kind", p.SystemPrompt)
	require.Equal(t, generator.DefaultPersona().ProgressSteps, p.ProgressSteps)

	_, err = personaFromSettings(provider.Settings{PersonaFile: filepath.Join(t.TempDir(), "missing.yaml")})
	require.Error(t, err)
}

func TestBuildServer_RequiresSecret(t *testing.T) {
	store := chatstore.NewInMemoryStore()
	_, err := buildServer(context.Background(), &ServeSettings{Addr: "127.0.0.1:0", QueueSize: 4}, auth.Settings{}, provider.Settings{}, redisstream.Settings{}, store)
	require.Error(t, err)
}

func TestBuildServer_RunsAndShutsDown(t *testing.T) {
	store := chatstore.NewInMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := buildServer(ctx,
		&ServeSettings{Addr: "127.0.0.1:0", WriteTimeoutMs: 1000, QueueSize: 4},
		auth.Settings{JWTSecret: "secret", UserIDClaim: "user_id", AuthCookie: auth.DefaultCookieName},
		provider.Settings{Model: provider.DefaultModel, ProgressSteps: 2, ProgressDelayMs: 10},
		redisstream.Settings{},
		store,
		webchat.WithSignalHandling(false),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestFormatMs(t *testing.T) {
	require.Empty(t, formatMs(0))
	require.Equal(t, "1970-01-01T00:00:01Z", formatMs(1000))
}
