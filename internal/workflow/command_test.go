package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/domain"
)

func TestRecordToJSONFlattensInputAndOutput(t *testing.T) {
	r := domain.CommandRecord{
		Status:          domain.StateExecuting,
		WorkflowVersion: "abc123",
		Input:           map[string]any{"version": "1.2.3"},
		Output:          map[string]any{"progress": float64(50)},
	}
	raw, err := recordToJSON(r)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"status":"executing"`)
	require.Contains(t, string(raw), `"version":"1.2.3"`)
	require.Contains(t, string(raw), `"progress":50`)
	require.Contains(t, string(raw), `"@version":"abc123"`)
}

func TestRecordFromJSONRoundTripsStatusAndFields(t *testing.T) {
	r := domain.CommandRecord{
		Status:          domain.StateSuccessful,
		WorkflowVersion: "abc123",
		Input:           map[string]any{"version": "1.2.3"},
		Output:          map[string]any{},
	}
	raw, err := recordToJSON(r)
	require.NoError(t, err)

	id := domain.MainDevice
	got, err := recordFromJSON(raw, id, "software_update", "cmd-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateSuccessful, got.Status)
	require.Equal(t, "abc123", got.WorkflowVersion)
	require.Equal(t, "1.2.3", got.Input["version"])
	require.Equal(t, "cmd-1", got.ID)
	require.Equal(t, "software_update", got.Operation)
}

func TestRecordFromJSONCapturesFailures(t *testing.T) {
	raw := []byte(`{"status":"failed","failures":["step init timed out"],"@version":"v1"}`)
	got, err := recordFromJSON(raw, domain.MainDevice, "restart", "cmd-2")
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, got.Status)
	require.Equal(t, []string{"step init timed out"}, got.Failures)
}

func TestRecordFromJSONRejectsInvalidJSON(t *testing.T) {
	_, err := recordFromJSON([]byte("not json"), domain.MainDevice, "restart", "cmd-3")
	require.Error(t, err)
}
