package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntityErrorUnwrapsToSentinel(t *testing.T) {
	err := NewEntityError(EntityKindConflict, "device/main//", ErrConflict)
	require.True(t, errors.Is(err, ErrConflict))
	require.Contains(t, err.Error(), "conflict")
	require.Contains(t, err.Error(), "device/main//")
}

func TestEntityErrorOmitsTopicIDWhenEmpty(t *testing.T) {
	err := NewEntityError(EntityKindBadQuery, "", ErrBadQuery)
	require.NotContains(t, err.Error(), `""`)
}

func TestEntityErrorKindStringsAreStable(t *testing.T) {
	cases := map[EntityErrorKind]string{
		EntityKindConflict:  "conflict",
		EntityKindNotFound:  "not-found",
		EntityKindBadParent: "bad-parent",
		EntityKindCycle:     "cycle",
		EntityKindBadKey:    "bad-key",
		EntityKindBadQuery:  "bad-query",
	}
	for kind, want := range cases {
		require.Equal(t, want, kind.String())
	}
}

func TestWorkflowErrorIncludesStateWhenSet(t *testing.T) {
	err := NewWorkflowError(WorkflowKindBadDefinition, "restart", "init", errors.New("bad action"))
	require.Contains(t, err.Error(), `state "init"`)
	require.True(t, errors.As(err, new(*WorkflowError)))
}

func TestWorkflowErrorOmitsStateWhenUnset(t *testing.T) {
	err := NewWorkflowError(WorkflowKindOutputParse, "restart", "", errors.New("bad json"))
	require.NotContains(t, err.Error(), "state")
}

func TestPluginErrorFormatsExitCodeDistinctly(t *testing.T) {
	exitErr := NewPluginError(PluginKindExitCode, "software-apt", 2, errors.New("failure"))
	require.Contains(t, exitErr.Error(), "exited 2")

	notFoundErr := NewPluginError(PluginKindNotFound, "software-apt", 0, ErrPluginNotFound)
	require.NotContains(t, notFoundErr.Error(), "exited")
}

func TestPluginErrorUnwrapsToUnderlyingError(t *testing.T) {
	err := NewPluginError(PluginKindNotFound, "software-apt", 0, ErrPluginNotFound)
	require.True(t, errors.Is(err, ErrPluginNotFound))
}
