package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "postbot/pkg/logx"
)

func sampleState(tenant int64) TenantState {
	return TenantState{
		Channels: map[string]ChannelSchedule{
			"@news": {
				TenantID:            tenant,
				ChannelID:           "@news",
				Topic:               "space exploration",
				BaseIntervalSeconds: 28800,
				JitterSeconds:       3600,
				CreatedAt:           time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
		},
		Sessions: map[string]json.RawMessage{
			"setup": json.RawMessage(`{"stage":"topic"}`),
		},
	}
}

func testStoreRoundTrip(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()
	st := open(t)
	defer st.Close()

	_, ok, err := st.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)

	want := sampleState(7)
	require.NoError(t, st.PutTenant(ctx, 7, want))
	require.NoError(t, st.PutTenant(ctx, 8, TenantState{}))

	got, ok, err := st.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got.Channels, 1)
	rec := got.Channels["@news"]
	require.Equal(t, int64(7), rec.TenantID)
	require.Equal(t, "@news", rec.ChannelID)
	require.Equal(t, "space exploration", rec.Topic)
	require.Equal(t, int64(28800), rec.BaseIntervalSeconds)
	require.Equal(t, int64(3600), rec.JitterSeconds)
	require.JSONEq(t, `{"stage":"topic"}`, string(got.Sessions["setup"]))

	// Full-document replace: a put without sessions drops them.
	replaced := want.Clone()
	replaced.Sessions = nil
	require.NoError(t, st.PutTenant(ctx, 7, replaced))
	got, ok, err = st.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got.Sessions)

	seen := map[int64]int{}
	require.NoError(t, st.ForEachTenant(ctx, func(id int64, s TenantState) error {
		seen[id] = len(s.Channels)
		return nil
	}))
	require.Equal(t, map[int64]int{7: 1, 8: 0}, seen)

	require.NoError(t, st.DeleteTenant(ctx, 7))
	_, ok, err = st.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	testStoreRoundTrip(t, func(t *testing.T) Store { return NewMemory() })
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	testStoreRoundTrip(t, func(t *testing.T) Store {
		st, err := openFile(Config{Path: filepath.Join(t.TempDir(), "postbot.store")}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	testStoreRoundTrip(t, func(t *testing.T) Store {
		st, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "postbot.db")}, logx.Nop())
		require.NoError(t, err)
		return st
	})
}

func TestFileStoreReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "postbot.store")

	st, err := openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutTenant(ctx, 7, sampleState(7)))
	require.NoError(t, st.PutTenant(ctx, 9, sampleState(9)))
	require.NoError(t, st.DeleteTenant(ctx, 9))
	require.NoError(t, st.Close())

	// Journal replay must restore exactly the surviving documents.
	st, err = openFile(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	got, ok, err := st.GetTenant(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, got.Channels, "@news")

	_, ok, err = st.GetTenant(ctx, 9)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTenantStateCloneIsDeep(t *testing.T) {
	t.Parallel()
	orig := sampleState(1)
	cp := orig.Clone()
	cp.Channels["@other"] = ChannelSchedule{ChannelID: "@other"}
	cp.Sessions["setup"] = json.RawMessage(`{"stage":"done"}`)

	require.NotContains(t, orig.Channels, "@other")
	require.JSONEq(t, `{"stage":"topic"}`, string(orig.Sessions["setup"]))
}
