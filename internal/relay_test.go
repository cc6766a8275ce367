package internal_test

import (
	"encoding/json"
	"testing"

	"github.com/koopa0/system-design/14-match-relay/internal"
	apperrors "github.com/koopa0/system-design/14-match-relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay(t *testing.T) {
	registry := internal.NewRegistry()
	recA, recB, recC := newRecorder(), newRecorder(), newRecorder()
	a, err := registry.Register("a", recA)
	require.NoError(t, err)
	b, err := registry.Register("b", recB)
	require.NoError(t, err)
	_, err = registry.Register("c", recC)
	require.NoError(t, err)

	room := internal.NewRoom("r1",
		internal.Member{Session: a, Role: internal.RoleCross},
		internal.Member{Session: b, Role: internal.RoleCircle},
	)

	relay := internal.NewRelay()
	relay.Bind(room)
	assert.True(t, relay.Bound("r1"))
	assert.Equal(t, 1, relay.Len())

	payload := json.RawMessage(`{"state":[["circle","",""]],"id":0,"sign":"circle"}`)

	peer, err := relay.Forward("r1", "b", payload)
	require.NoError(t, err)
	assert.Equal(t, "a", peer.ID)
	require.Equal(t, []string{internal.EventMoveFromServer}, recA.Types())
	assert.Equal(t, payload, recA.Last(t).Data)
	assert.Empty(t, recB.Types())

	// 非成員不能透過綁定轉發
	_, err = relay.Forward("r1", "c", payload)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, recC.Types())

	assert.True(t, relay.Unbind("r1"))
	assert.False(t, relay.Unbind("r1"))
	assert.False(t, relay.Bound("r1"))
	assert.Zero(t, relay.Len())

	_, err = relay.Forward("r1", "b", payload)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Len(t, recA.Types(), 1)
}
