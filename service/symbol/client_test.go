package symbol

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_NetworkProperties(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/network/properties", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"network":{"identifier":"testnet","epochAdjustment":"1667250467s"},"chain":{"currencyMosaicId":"0x72C0'212E'67A0'8BCE"}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", nil, nil, nil)
	props, err := c.NetworkProperties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "testnet", props.Network.Identifier)
	assert.Equal(t, "72C0212E67A08BCE", props.CurrencyMosaicID())
	assert.Equal(t, server.URL, c.BaseURL())
}

func TestClient_ConfirmedTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/confirmed", r.URL.Path)
		assert.Equal(t, testAccount, r.URL.Query().Get("address"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))

		w.Write([]byte(`{"data":[
			{"meta":{"hash":"H2","height":"11"},"transaction":{"recipientAddress":"` + testAccount + `","mosaics":[{"id":"6BED913FA20223F8","amount":"1000000"}]}},
			{"meta":{"hash":"H1","height":"10"},"transaction":{"recipientAddress":"` + testAccount + `","mosaics":[{"id":"6BED913FA20223F8","amount":"5000000"}]}}
		],"pagination":{"pageNumber":1,"pageSize":50}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil, nil)
	txs, err := c.ConfirmedTransactions(context.Background(), "natne7-q5bitm-utrrn6-ib4i7f-lsdrdw-za37jg-o5q", 50)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "H2", txs[0].Meta.Hash)
	assert.Equal(t, uint64(5000000), txs[1].Transaction.Mosaics[0].Units())
}

func TestClient_BlockTimestamp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blocks/1200":
			w.Write([]byte(`{"block":{"height":"1200","timestamp":"86400000"}}`))
		default:
			http.Error(w, `{"code":"ResourceNotFound"}`, http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil, nil)

	ts, err := c.BlockTimestamp(context.Background(), 1200)
	require.NoError(t, err)
	assert.Equal(t, uint64(86400000), ts)

	_, err = c.BlockTimestamp(context.Background(), 9999)
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestClient_Account(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/"+testAccount, r.URL.Path)
		w.Write([]byte(`{"account":{"address":"` + testAccountHex + `","mosaics":[{"id":"6BED913FA20223F8","amount":"2500000"}]}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil, nil)
	acct, err := c.Account(context.Background(), testAccount)
	require.NoError(t, err)

	bal := NativeBalance(*acct, Mainnet.Info().NativeMosaicID)
	assert.Equal(t, 2.5, bal.Amount)
}

func TestClient_Announce(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var got map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "/transactions", r.URL.Path)
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &got))
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"message":"packet 9 was pushed to the network via /transactions"}`))
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, nil, nil)
		require.NoError(t, c.Announce(context.Background(), "CAFEBABE"))
		assert.Equal(t, "CAFEBABE", got["payload"])
	})

	t.Run("rejected", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"code":"InvalidArgument"}`, http.StatusBadRequest)
		}))
		defer server.Close()

		c := NewClient(server.URL, nil, nil, nil)
		err := c.Announce(context.Background(), "CAFEBABE")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAnnounceRejected))
		assert.Equal(t, int32(1), calls.Load(), "announce must not be retried")
	})
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil, nil)
	for i := 0; i < 5; i++ {
		_, err := c.BlockTimestamp(context.Background(), 1)
		require.Error(t, err)
	}
	assert.Equal(t, int32(5), calls.Load())

	_, err := c.BlockTimestamp(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, int32(5), calls.Load(), "open breaker should not reach the node")
}

func TestClient_NotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil, nil)
	for i := 0; i < 8; i++ {
		_, err := c.BlockTimestamp(context.Background(), 1)
		require.Error(t, err)
	}
	assert.Equal(t, int32(8), calls.Load())
}
