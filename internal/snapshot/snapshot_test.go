package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/domain"
)

func TestEntityRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	e := domain.Entity{
		TopicID:    domain.MainDevice,
		EntityType: domain.EntityTypeDevice,
		ExternalID: "rpi-01",
		Twin:       map[string]any{"firmware": "1.2.3"},
	}
	require.NoError(t, c.UpsertEntity(e))

	loaded, err := c.LoadEntities()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, "rpi-01", loaded[0].ExternalID)
	require.Equal(t, "1.2.3", loaded[0].Twin["firmware"])

	require.NoError(t, c.DeleteEntity(domain.MainDevice))
	loaded, err = c.LoadEntities()
	require.NoError(t, err)
	require.Len(t, loaded, 0)
}

func TestCommandRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	r := domain.CommandRecord{
		ID:        "cmd-1",
		TopicID:   domain.MainDevice,
		Operation: "restart",
		Status:    domain.StateExecuting,
	}
	require.NoError(t, c.UpsertCommand(r))

	loaded, err := c.LoadCommands()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, domain.StateExecuting, loaded[0].Status)
}
