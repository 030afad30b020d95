package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

const positionsJSON = `[
  {
    "proxyWallet": "0xabc",
    "asset": "111",
    "conditionId": "0xcond1",
    "size": 26.3,
    "avgPrice": "0.41",
    "initialValue": 10.79,
    "currentValue": "2.89",
    "cashPnl": -7.9,
    "curPrice": 0.11,
    "redeemable": false,
    "title": "Will it rain?",
    "outcome": "Yes",
    "endDate": "2099-01-01"
  },
  {
    "proxyWallet": "0xabc",
    "asset": "222",
    "conditionId": "0xcond2",
    "size": 5,
    "avgPrice": 0.5,
    "initialValue": 2.5,
    "currentValue": 0,
    "curPrice": 0,
    "redeemable": "true",
    "title": "Resolved market",
    "outcome": "No",
    "endDate": "2020-01-01T00:00:00Z"
  },
  {"asset": "", "conditionId": "0xbroken", "size": 1}
]`

func TestSnapshotSourceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/positions", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("user"))
		assert.Equal(t, "0", r.URL.Query().Get("sizeThreshold"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, positionsJSON)
	}))
	defer srv.Close()

	src := NewSnapshotSource(NewDataClient(srv.URL))
	snaps, err := src.Fetch(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	first := snaps[0]
	assert.Equal(t, "polymarket", first.Venue)
	assert.Equal(t, "0xcond1:111", first.VenueAssetKey)
	assert.Equal(t, domain.KindPrediction, first.Kind)
	assert.InDelta(t, 26.3, first.Size, 1e-9)
	assert.InDelta(t, 0.41, first.AvgEntryPrice, 1e-9)
	assert.InDelta(t, 10.79, first.InitialValueUSD, 1e-9)
	assert.InDelta(t, 2.89, first.CurrentValueUSD, 1e-9)
	assert.Equal(t, "Will it rain?", first.Title)
	assert.False(t, first.Terminal)
	assert.True(t, first.Active())

	second := snaps[1]
	assert.True(t, second.Terminal)
	assert.True(t, second.TerminalZero())
	require.NotNil(t, second.Expiry)
	assert.Equal(t, 2020, second.Expiry.Year())
}

func TestGetPositionsPaginates(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		n := positionsPageSize
		if offset > 0 {
			n = 3
		}
		fmt.Fprint(w, "[")
		for i := range n {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"asset":"%d","conditionId":"c","size":1}`, offset+i)
		}
		fmt.Fprint(w, "]")
	}))
	defer srv.Close()

	positions, err := NewDataClient(srv.URL).GetPositions(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Len(t, positions, positionsPageSize+3)
	assert.Equal(t, 2, calls)
}

func TestFetchErrorsAreVenueUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewSnapshotSource(NewDataClient(srv.URL)).Fetch(context.Background(), "0xabc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVenueUnavailable))
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
}

func TestFlexFloat(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		err  bool
	}{
		{`1.5`, 1.5, false},
		{`"2.25"`, 2.25, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
	}
	for _, tt := range tests {
		var f flexFloat
		err := f.UnmarshalJSON([]byte(tt.in))
		if tt.err {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, float64(f), 1e-12, tt.in)
	}
}

func TestExpiryLayouts(t *testing.T) {
	p := APIPosition{EndDate: "2026-03-01"}
	require.NotNil(t, p.Expiry())
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), *p.Expiry())

	p.EndDate = "soon"
	assert.Nil(t, p.Expiry())
}
