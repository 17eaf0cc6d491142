package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"erpsync/internal/manifest"
	"erpsync/internal/metrics"
	"erpsync/internal/model"
	"erpsync/internal/publish"
	"erpsync/internal/snapshot"
	"erpsync/internal/store"
)

const ordersPayload = `{"value":[
 {"Ref_Key":"k1","Number":"000123","Date":"2020-03-05T00:00:00","АдресДоставки":"Street 1",
  "Контрагент":{"Description":"Acme"},"Ответственный":{"Code":" J. Smith "}},
 {"Ref_Key":"k2","Number":"000124","Date":"2020-03-04T12:00:00","АдресДоставки":"Street 2",
  "Контрагент":{"Description":"Globex"},"Ответственный":{"Code":"A. Jones"}}
]}`

const k1Lines = `{"value":[
 {"Ref_Key":"k1","Количество":2.5,"КоличествоМест":2,"Коэффициент":1,
  "ЕдиницаИзмерения":{"Description":"кг"},"Номенклатура":{"Description":"Мука"}},
 {"Ref_Key":"k1","Количество":10,"КоличествоМест":1,"Коэффициент":1,
  "ЕдиницаИзмерения":{"Description":"шт"},"Номенклатура":{"Description":"Коробка"}}
]}`

func fakeERP(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter := r.URL.Query().Get("$filter")
		switch {
		case strings.HasSuffix(r.URL.Path, "/Document_ЗаказПокупателя"):
			_, _ = w.Write([]byte(ordersPayload))
		case strings.HasSuffix(r.URL.Path, "/Document_ЗаказПокупателя_Товары") && strings.Contains(filter, "guid'k1'"):
			_, _ = w.Write([]byte(k1Lines))
		default:
			_, _ = w.Write([]byte(`{"value":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, serviceRoot string) Config {
	dir := t.TempDir()
	return Config{
		ServiceRoot:  serviceRoot,
		Date:         "2020-03-05",
		BatchSize:    1,
		Concurrency:  2,
		OrphanPolicy: "drop",
		LogLevel:     "info",
		StoreBackend: "pebble",
		StoreDir:     filepath.Join(dir, "store"),
		SnapshotDir:  filepath.Join(dir, "snapshots"),
		ManifestSink: "file",
		PublishSink:  "file",
		PublishDir:   filepath.Join(dir, "out"),
	}
}

func TestRun_PersistsSnapshotManifestAndEvents(t *testing.T) {
	srv := fakeERP(t)
	cfg := testConfig(t, srv.URL+"/odata/standard.odata")
	require.NoError(t, run(context.Background(), cfg, zap.NewNop()))

	m, err := manifest.NewFilesystemManifest(cfg.SnapshotDir).ReadLatest(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, m.RunID)
	assert.Equal(t, "2020-03-05", m.ShipmentDate)
	assert.Equal(t, 2, m.Orders)
	assert.InDelta(t, 3.5, m.TotalWeight, 1e-9)

	_, err = os.Stat(snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir).Path(m.RunID))
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(cfg.PublishDir, "orders.jsonl"))
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestRun_SnapshotHoldsOnlyCurrentRun(t *testing.T) {
	srv := fakeERP(t)
	cfg := testConfig(t, srv.URL+"/odata/standard.odata")
	cfg.StoreBackend = "bolt"

	st, err := store.NewBoltStore(cfg.StoreDir)
	require.NoError(t, err)
	require.NoError(t, st.Put(model.Order{Key: "old", CreatedDate: civil.Date{Year: 2020, Month: 3, Day: 1}}))
	require.NoError(t, st.Close())

	for i := 0; i < 2; i++ {
		require.NoError(t, run(context.Background(), cfg, zap.NewNop()))

		m, err := manifest.NewFilesystemManifest(cfg.SnapshotDir).ReadLatest(context.Background())
		require.NoError(t, err)
		raw, err := os.ReadFile(snapshot.NewFilesystemSnapshotter(cfg.SnapshotDir).Path(m.RunID))
		require.NoError(t, err)
		var got map[string]model.Order
		require.NoError(t, json.Unmarshal(raw, &got))

		keys := make([]string, 0, len(got))
		for k := range got {
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, []string{"k1", "k2"}, keys, "run %d", i+1)
		assert.Equal(t, m.Orders, len(got))
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	srv := fakeERP(t)

	cfg := testConfig(t, srv.URL)
	cfg.Date = "05.03.2020"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop()))

	cfg = testConfig(t, srv.URL)
	cfg.OrphanPolicy = "ignore"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop()))

	cfg = testConfig(t, srv.URL)
	cfg.PublishSink = "kafka"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop()))

	cfg = testConfig(t, srv.URL)
	cfg.ManifestSink = "kafka"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop()))

	cfg = testConfig(t, srv.URL)
	cfg.StoreBackend = "leveldb"
	assert.Error(t, run(context.Background(), cfg, zap.NewNop()))
}

func TestRun_FetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	err := run(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestBuildKafkaOutputsReturnClosers(t *testing.T) {
	cfg := testConfig(t, "http://erp.invalid")
	cfg.KafkaBootstrap = "127.0.0.1:9092"

	cfg.PublishSink = "kafka"
	sink, closeSink, err := buildSink(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &publish.KafkaSink{}, sink)
	closeSink()

	cfg.PublishSink = "both"
	sink, closeSink, err = buildSink(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &publish.MultiSink{}, sink)
	closeSink()

	for _, mode := range []string{"kafka", "both"} {
		cfg.ManifestSink = mode
		mani, closeManifest, err := buildManifestPublisher(cfg)
		require.NoError(t, err, mode)
		require.NotNil(t, mani, mode)
		closeManifest()
	}

	cfg.ManifestSink = "zk"
	_, _, err = buildManifestPublisher(cfg)
	assert.Error(t, err)
}

func TestMetricsMux(t *testing.T) {
	srv := httptest.NewServer(metricsMux(metrics.NewRegistry()))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
