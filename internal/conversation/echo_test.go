package conversation

import (
	"testing"
	"time"

	"github.com/harunnryd/parley/internal/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcile_SupersedesMatchingEcho(t *testing.T) {
	echo := Echo("echo-1", "  Hello  There ", t0)
	system := []history.Entry{
		{ID: "sys", Role: history.RoleSystem, Content: "connected", Timestamp: t0.Add(-time.Second), Local: true},
		echo,
	}
	normalized := []history.Entry{
		{ID: "u1", Role: history.RoleUser, Content: "hello there", Timestamp: t0.Add(2 * time.Second)},
	}

	st := Reduce(Input{Normalized: normalized, System: system, Now: t0})

	assert.Equal(t, []string{"echo-1"}, st.Superseded)
	require.Len(t, st.History, 2)
	assert.Equal(t, "sys", st.History[0].ID)
	assert.Equal(t, "u1", st.History[1].ID)
}

func TestReconcile_KeepsUnconfirmedEcho(t *testing.T) {
	tests := []struct {
		name       string
		normalized []history.Entry
	}{
		{"no history yet", nil},
		{"different text", []history.Entry{
			{Role: history.RoleUser, Content: "something else", Timestamp: t0},
		}},
		{"assistant said it", []history.Entry{
			{Role: history.RoleAssistant, Content: "hello", Timestamp: t0},
		}},
		{"outside window", []history.Entry{
			{Role: history.RoleUser, Content: "hello", Timestamp: t0.Add(DefaultEchoWindow + time.Second)},
		}},
		{"said before the echo", []history.Entry{
			{ID: "u0", Role: history.RoleUser, Content: "hello", Timestamp: t0.Add(-5 * time.Second)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, superseded, _ := Reconcile([]history.Entry{Echo("e", "hello", t0)}, tt.normalized, nil, 0)
			assert.Empty(t, superseded)
			require.Len(t, kept, 1)
			assert.True(t, kept[0].Provisional)
		})
	}
}

func TestReconcile_OneToOne(t *testing.T) {
	system := []history.Entry{
		Echo("e1", "yes", t0),
		Echo("e2", "yes", t0.Add(time.Second)),
	}
	normalized := []history.Entry{
		{ID: "u1", Role: history.RoleUser, Content: "yes", Timestamp: t0.Add(time.Second)},
	}

	kept, superseded, confirms := Reconcile(system, normalized, nil, 10*time.Second)
	assert.Equal(t, []string{"e1"}, superseded)
	assert.Equal(t, []string{"u1"}, confirms)
	require.Len(t, kept, 1)
	assert.Equal(t, "e2", kept[0].ID)
}

func TestReconcile_RepeatedText(t *testing.T) {
	first := []history.Entry{
		{ID: "u1", Role: history.RoleUser, Content: "yes", Timestamp: t0.Add(time.Second)},
	}

	_, superseded, confirms := Reconcile([]history.Entry{Echo("e1", "yes", t0)}, first, nil, 0)
	require.Equal(t, []string{"e1"}, superseded)
	require.Equal(t, []string{"u1"}, confirms)
	confirmed := map[string]bool{"u1": true}

	// The same text sent again is not confirmed by the earlier turn.
	second := Echo("e2", "yes", t0.Add(2*time.Second))
	kept, superseded, confirms := Reconcile([]history.Entry{second}, first, confirmed, 0)
	assert.Empty(t, superseded)
	assert.Empty(t, confirms)
	require.Len(t, kept, 1)
	assert.Equal(t, "e2", kept[0].ID)

	// Its own authoritative turn does.
	withSecond := append(first, history.Entry{ID: "u2", Role: history.RoleUser, Content: "yes", Timestamp: t0.Add(3 * time.Second)})
	kept, superseded, confirms = Reconcile([]history.Entry{second}, withSecond, confirmed, 0)
	assert.Empty(t, kept)
	assert.Equal(t, []string{"e2"}, superseded)
	assert.Equal(t, []string{"u2"}, confirms)
}

func TestReconcile_EarlierTurnOutsideSkew(t *testing.T) {
	normalized := []history.Entry{
		{ID: "a1", Role: history.RoleUser, Content: "yes", Timestamp: t0},
	}

	kept, superseded, _ := Reconcile([]history.Entry{Echo("local-2", "yes", t0.Add(5*time.Second))}, normalized, nil, 30*time.Second)
	assert.Empty(t, superseded)
	require.Len(t, kept, 1)
	assert.True(t, kept[0].Provisional)

	kept, superseded, _ = Reconcile([]history.Entry{Echo("local-3", "yes", t0.Add(EchoSkew))}, normalized, nil, 30*time.Second)
	assert.Empty(t, kept)
	assert.Equal(t, []string{"local-3"}, superseded)
}
