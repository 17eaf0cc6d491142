// Command mockerp serves generated sales orders and line items in the OData
// JSON shape of the ERP, for local runs of ordersync.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"regexp"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"erpsync/internal/logging"
	"erpsync/internal/schema"
)

type ref struct {
	Description string `json:"Description"`
}

type manager struct {
	Code string `json:"Code"`
}

type orderRow struct {
	RefKey       string  `json:"Ref_Key"`
	Number       string  `json:"Number"`
	Date         string  `json:"Date"`
	Address      string  `json:"АдресДоставки"`
	Counterparty ref     `json:"Контрагент"`
	Responsible  manager `json:"Ответственный"`
}

type lineRow struct {
	RefKey      string  `json:"Ref_Key"`
	Quantity    float64 `json:"Количество"`
	Places      int     `json:"КоличествоМест"`
	Coefficient float64 `json:"Коэффициент"`
	Unit        ref     `json:"ЕдиницаИзмерения"`
	Product     ref     `json:"Номенклатура"`
}

type dataset struct {
	date   civil.Date
	orders []orderRow
	lines  map[string][]lineRow
}

var (
	dateLiteral = regexp.MustCompile(`datetime'([^']+)'`)
	guidLiteral = regexp.MustCompile(`guid'([^']+)'`)
)

func main() {
	var (
		addr     string
		count    int
		seed     int64
		dateStr  string
		logLevel string
	)
	flag.StringVar(&addr, "addr", ":8081", "listen address")
	flag.IntVar(&count, "count", 250, "number of orders to generate")
	flag.Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed")
	flag.StringVar(&dateStr, "date", civil.DateOf(time.Now()).String(), "shipment date of generated orders")
	flag.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	flag.Parse()

	logger, err := logging.New(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	date, err := civil.ParseDate(dateStr)
	if err != nil {
		logger.Fatal("parse -date", zap.Error(err))
	}
	ds := generate(rand.New(rand.NewSource(seed)), date, count)
	logger.Info("generated dataset", zap.Int("orders", len(ds.orders)), zap.Stringer("date", date))

	if err := http.ListenAndServe(addr, newRouter(ds, schema.Default(), logger)); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}

func newRouter(ds *dataset, s schema.Schema, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/odata/standard.odata", func(r chi.Router) {
		r.Get("/{entitySet}", func(w http.ResponseWriter, req *http.Request) {
			set := chi.URLParam(req, "entitySet")
			filter := req.URL.Query().Get("$filter")
			logger.Debug("request", zap.String("entity_set", set), zap.String("filter", filter))
			switch set {
			case s.Orders.EntitySet:
				writeCollection(w, set, ds.ordersFor(filter))
			case s.LineItems.EntitySet:
				writeCollection(w, set, ds.linesFor(filter))
			default:
				http.Error(w, "unknown entity set "+set, http.StatusNotFound)
			}
		})
	})
	return r
}

func (ds *dataset) ordersFor(filter string) []orderRow {
	m := dateLiteral.FindStringSubmatch(filter)
	if m == nil {
		return ds.orders
	}
	t, err := time.Parse("2006-01-02T15:04:05", m[1])
	if err != nil || civil.DateOf(t) != ds.date {
		return []orderRow{}
	}
	return ds.orders
}

func (ds *dataset) linesFor(filter string) []lineRow {
	out := []lineRow{}
	for _, m := range guidLiteral.FindAllStringSubmatch(filter, -1) {
		out = append(out, ds.lines[m[1]]...)
	}
	return out
}

func writeCollection[T any](w http.ResponseWriter, set string, rows []T) {
	w.Header().Set("Content-Type", "application/json;odata=minimalmetadata")
	_ = json.NewEncoder(w).Encode(struct {
		Metadata string `json:"odata.metadata"`
		Value    []T    `json:"value"`
	}{Metadata: "$metadata#" + set, Value: rows})
}

func generate(rng *rand.Rand, date civil.Date, count int) *dataset {
	clients := []string{"ООО Ромашка", "ИП Сидоров", "Acme", "ЗАО Вектор"}
	managers := []string{" Иванов И.И. ", "Петров П.П.", " J. Smith"}
	products := []struct{ name, unit string }{
		{"Сахар", "кг"}, {"Молоко", "л"}, {"Коробка", "шт"}, {"Кабель", "м"}, {"Мука", "кг"},
	}
	ds := &dataset{date: date, lines: make(map[string][]lineRow)}
	for i := 0; i < count; i++ {
		key := uuid.Must(uuid.NewRandomFromReader(rng)).String()
		ds.orders = append(ds.orders, orderRow{
			RefKey:       key,
			Number:       fmt.Sprintf("%09d", i+1),
			Date:         date.In(time.UTC).Add(-time.Duration(rng.Intn(72)) * time.Hour).Format("2006-01-02T15:04:05"),
			Address:      fmt.Sprintf("ул. Ленина, %d", 1+rng.Intn(200)),
			Counterparty: ref{Description: clients[rng.Intn(len(clients))]},
			Responsible:  manager{Code: managers[rng.Intn(len(managers))]},
		})
		for j := 0; j < 1+rng.Intn(4); j++ {
			p := products[rng.Intn(len(products))]
			ds.lines[key] = append(ds.lines[key], lineRow{
				RefKey:      key,
				Quantity:    float64(1+rng.Intn(500)) / 10,
				Places:      rng.Intn(6),
				Coefficient: 1,
				Unit:        ref{Description: p.unit},
				Product:     ref{Description: p.name},
			})
		}
	}
	return ds
}
