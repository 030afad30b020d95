package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/treasurybot/internal/domain"
)

func TestFetchNormalisesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0xabc", r.URL.Query().Get("account"))
		assert.Equal(t, "main", r.URL.Query().Get("pool"))
		fmt.Fprint(w, `{"positions":[
			{"key":"aave:weth","kind":"lending","asset":"eth","size":"1.5","initial_value_usd":4000,
			 "current_value_usd":"4350.25","metadata":{"health_factor":"1.9"}},
			{"key":"uni:eth-usdc","kind":"LP","size":1,"initial_value_usd":1000,"current_value_usd":980}
		]}`)
	}))
	defer srv.Close()

	src := NewSnapshotSource("aave", srv.URL+"/positions?pool=main")
	assert.Equal(t, "aave", src.Venue())

	snaps, err := src.Fetch(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "aave", snaps[0].Venue)
	assert.Equal(t, domain.KindLending, snaps[0].Kind)
	assert.Equal(t, "ETH", snaps[0].Asset)
	assert.InDelta(t, 4350.25, snaps[0].CurrentValueUSD, 1e-9)
	assert.Equal(t, "1.9", snaps[0].Metadata["health_factor"])
	assert.Equal(t, domain.KindLP, snaps[1].Kind)
	assert.Empty(t, snaps[1].Asset)
}

func TestFetchRejectsInvalidEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"positions":[{"key":"x","kind":"option","size":1}]}`)
	}))
	defer srv.Close()

	_, err := NewSnapshotSource("opts", srv.URL).Fetch(context.Background(), "0xabc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVenueUnavailable))
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSnapshotSource("aave", srv.URL).Fetch(context.Background(), "0xabc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrVenueUnavailable))
}
