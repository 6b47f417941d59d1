package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thin-edge/tedge-core/internal/domain"
)

func TestCreateEntityRejectsMalformedTopicID(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"@topic-id":"a/b/c/d/e","@type":"child-device"}`
	resp, err := http.Post(srv.URL+"/te/v1/entities", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEntityConflictReturns409(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body := `{"@topic-id":"device/main//","@type":"device"}`
	resp, err := http.Post(srv.URL+"/te/v1/entities", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteEntityCascadesToDescendantsUnconditionally(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.NoError(t, s.store.Register(context.Background(), domain.Entity{
		TopicID:       domain.TopicID{TypeNS: "device", DeviceID: "child0"},
		ParentTopicID: &domain.MainDevice,
	}))

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/te/v1/entities/device/main", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	deleted, ok := out["deleted"].([]any)
	require.True(t, ok)
	require.Len(t, deleted, 2)
}

func TestQueryEntitiesFiltersByParentAndType(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.NoError(t, s.store.Register(context.Background(), domain.Entity{
		TopicID:       domain.TopicID{TypeNS: "device", DeviceID: "child0"},
		ParentTopicID: &domain.MainDevice,
		EntityType:    domain.EntityTypeChildDevice,
	}))

	resp, err := http.Get(srv.URL + "/te/v1/entities?parent=device/main&type=child-device")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	require.Equal(t, "device/child0//", out[0]["@topic-id"])
}

func TestTwinSetGetAndDeleteFragment(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/te/v1/entities/device/main/twin/temperature", bytes.NewBufferString("21.5"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/te/v1/entities/device/main/twin/temperature")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var value float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&value))
	require.Equal(t, 21.5, value)

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/te/v1/entities/device/main/twin/temperature", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/te/v1/entities/device/main/twin/temperature")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTwinSetRejectsReservedKey(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/te/v1/entities/device/main/twin/@type", bytes.NewBufferString(`"device"`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReplaceTwinThenGetWholeTwin(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/te/v1/entities/device/main/twin", bytes.NewBufferString(`{"temperature":21.5,"humidity":55}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/te/v1/entities/device/main/twin")
	require.NoError(t, err)
	defer resp.Body.Close()
	var twin map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&twin))
	require.Equal(t, 21.5, twin["temperature"])
	require.Equal(t, float64(55), twin["humidity"])
}

func TestUpdateEntityClearsParentWithEmptyString(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	require.NoError(t, s.store.Register(context.Background(), domain.Entity{
		TopicID:       domain.TopicID{TypeNS: "device", DeviceID: "child0"},
		ParentTopicID: &domain.MainDevice,
	}))

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/te/v1/entities/device/child0", bytes.NewBufferString(`{"@parent":""}`))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	_, hasParent := out["@parent"]
	require.False(t, hasParent)
}
