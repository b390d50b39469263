package whatsmeowgw

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate/gateway-server-go/internal/credstore"
	"github.com/wagate/gateway-server-go/internal/transport"
)

func TestFactory_New(t *testing.T) {
	t.Run("creates the credential container under the account directory", func(t *testing.T) {
		creds, err := credstore.New(t.TempDir())
		require.NoError(t, err)
		factory := NewFactory(creds, zerolog.Nop())

		tr, err := factory.New("6285700000001", transport.Events{})
		require.NoError(t, err)
		defer tr.Disconnect()

		dir, err := creds.Path("6285700000001")
		require.NoError(t, err)
		_, err = os.Stat(filepath.Join(dir, "session.db"))
		assert.NoError(t, err)

		assert.False(t, tr.IsRegistered())
		assert.Nil(t, tr.Identity())
	})

	t.Run("rejects a non-numeric account id", func(t *testing.T) {
		creds, err := credstore.New(t.TempDir())
		require.NoError(t, err)
		factory := NewFactory(creds, zerolog.Nop())

		_, err = factory.New("../escape", transport.Events{})
		assert.Error(t, err)
	})
}
