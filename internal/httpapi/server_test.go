package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/domain"
	"github.com/thin-edge/tedge-core/internal/entitystore"
)

type noopEngine struct{}

func (noopEngine) Start(ctx context.Context, id domain.TopicID, operation string, input map[string]any) (string, error) {
	return "cmd-1", nil
}
func (noopEngine) Cancel(ctx context.Context, id domain.TopicID, operation, commandID string) error {
	return nil
}
func (noopEngine) Status(ctx context.Context, id domain.TopicID, operation, commandID string) (domain.CommandRecord, error) {
	if commandID != "cmd-1" {
		return domain.CommandRecord{}, domain.ErrCommandNotFound
	}
	return domain.CommandRecord{Status: domain.StateSuccessful}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := entitystore.New(config.EntityStoreConfig{}, zerolog.Nop(), nil)
	require.NoError(t, store.Register(context.Background(), domain.Entity{TopicID: domain.MainDevice, EntityType: domain.EntityTypeDevice}))
	return New(store, noopEngine{}, zerolog.Nop())
}

func TestCreateAndGetEntity(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"@topic-id":"device/child0//","@type":"child-device","@parent":"device/main//"}`
	resp, err := http.Post(srv.URL+"/te/v1/entities", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/te/v1/entities/device/child0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "child-device", out["@type"])
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/te/v1/entities/device/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartAndGetCommand(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/te/v1/commands/device/main///restart", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/te/v1/commands/device/main///restart/cmd-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
