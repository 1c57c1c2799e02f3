package opensearch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mstgnz/donatepay/infra/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster records requests and answers like a single-node OpenSearch
type fakeCluster struct {
	mu       sync.Mutex
	created  []string
	indexed  map[string][]json.RawMessage
	existing map[string]bool
}

func newFakeCluster(t *testing.T) (*fakeCluster, *httptest.Server) {
	t.Helper()
	fc := &fakeCluster{indexed: map[string][]json.RawMessage{}, existing: map[string]bool{}}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeCluster) serve(w http.ResponseWriter, r *http.Request) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.URL.Path == "/":
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	case r.Method == http.MethodHead:
		if fc.existing[parts[0]] {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPut && len(parts) == 1:
		fc.created = append(fc.created, parts[0])
		fc.existing[parts[0]] = true
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case len(parts) >= 2 && parts[1] == "_doc":
		body, _ := io.ReadAll(r.Body)
		fc.indexed[parts[0]] = append(fc.indexed[parts[0]], body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	case len(parts) >= 2 && parts[1] == "_search":
		var hits []map[string]json.RawMessage
		for _, doc := range fc.indexed[parts[0]] {
			hits = append(hits, map[string]json.RawMessage{"_source": doc})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unexpected request"}`))
	}
}

func TestNewClient_CreatesMissingIndices(t *testing.T) {
	fc, srv := newFakeCluster(t)
	fc.existing[SystemLogIndex] = true

	client, err := NewClient(&config.AppConfig{OpenSearchURL: srv.URL, EnableLogging: true})
	require.NoError(t, err)
	require.NotNil(t, client.GetClient())

	assert.Equal(t, []string{PaymentOutcomeIndex}, fc.created)
	assert.True(t, client.IsEnabled())
}

func TestNewClient_LoggingDisabledSkipsSetup(t *testing.T) {
	fc, srv := newFakeCluster(t)

	client, err := NewClient(&config.AppConfig{OpenSearchURL: srv.URL, EnableLogging: false})
	require.NoError(t, err)

	assert.False(t, client.IsEnabled())
	assert.Empty(t, fc.created)
}
