// Package source charge un instantané CSV du schéma en étoile (répertoire local ou S3).
package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// valeurs considérées comme nulles, comme à la lecture d'un CSV par pandas
var nullTokens = map[string]bool{
	"": true, "NA": true, "N/A": true, "NaN": true, "nan": true, "null": true, "NULL": true, "None": true,
}

// Loader lit les neuf tables de l'instantané via un Fetcher.
type Loader struct {
	fetcher Fetcher
	log     *zap.Logger
}

func NewLoader(f Fetcher, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{fetcher: f, log: log}
}

// table est un CSV lu en mémoire : en-têtes indexés + cellules brutes.
type table struct {
	name   string
	cols   map[string]int
	ncols  int
	rows   [][]string
	nulls  int
	absent map[string]bool
}

func readTable(name string, r io.Reader) (*table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return &table{name: name, cols: map[string]int{}, absent: map[string]bool{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s headers: %w", name, err)
	}
	t := &table{name: name, cols: make(map[string]int, len(headers)), ncols: len(headers), absent: map[string]bool{}}
	for i, h := range headers {
		t.cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for i := 0; i < t.ncols; i++ {
			if i >= len(row) || nullTokens[strings.TrimSpace(row[i])] {
				t.nulls++
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) stats() models.TableStats {
	return models.NewTableStats(t.name, len(t.rows), t.ncols, t.nulls)
}

func (t *table) str(row []string, col string) string {
	i, ok := t.cols[col]
	if !ok {
		t.absent[col] = true
		return ""
	}
	if i >= len(row) {
		return ""
	}
	v := strings.TrimSpace(row[i])
	if nullTokens[v] {
		return ""
	}
	return v
}

// num : nul ou illisible -> NaN
func (t *table) num(row []string, col string) float64 {
	v := t.str(row, col)
	if v == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// integer : nul ou illisible -> 0 ; "3.0" est accepté (colonne typée float par l'export).
func (t *table) integer(row []string, col string) int {
	f := t.num(row, col)
	if math.IsNaN(f) {
		return 0
	}
	return int(f)
}

func (t *table) date(row []string, col string) time.Time {
	return period.ParseDate(t.str(row, col))
}

func (t *table) flag(row []string, col string) bool {
	switch strings.ToLower(t.str(row, col)) {
	case "1", "1.0", "true", "yes", "y":
		return true
	}
	return false
}

// Load lit toutes les tables en parallèle ; une table manquante fait échouer le chargement.
func (l *Loader) Load(ctx context.Context) (*models.Dataset, error) {
	start := time.Now()
	ds := &models.Dataset{Stats: make(map[string]models.TableStats, len(models.Tables))}
	tables := make([]*table, len(models.Tables))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range models.Tables {
		i, name := i, name
		g.Go(func() error {
			rc, err := l.fetcher.Fetch(gctx, name+".csv")
			if err != nil {
				return err
			}
			defer rc.Close()
			t, err := readTable(name, rc)
			if err != nil {
				return err
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load %s: %w", l.fetcher.Location(), err)
	}

	for _, t := range tables {
		decode(ds, t)
		ds.Stats[t.name] = t.stats()
		for col := range t.absent {
			l.log.Warn("column not found, values treated as null",
				zap.String("table", t.name), zap.String("column", col))
		}
	}
	l.log.Info("dataset loaded",
		zap.String("location", l.fetcher.Location()),
		zap.Int("sales", len(ds.Sales)),
		zap.Int("subscriptions", len(ds.Subscriptions)),
		zap.Duration("elapsed", time.Since(start)))
	return ds, nil
}

func decode(ds *models.Dataset, t *table) {
	switch t.name {
	case models.TableDimDate:
		for _, r := range t.rows {
			d := t.date(r, "Date")
			row := models.DateRow{
				DateKey:  t.integer(r, "DateKey"),
				Date:     d,
				Year:     t.integer(r, "Year"),
				Month:    t.integer(r, "Month"),
				MonthIdx: t.integer(r, "MonthIdx"),
			}
			ds.Dates = append(ds.Dates, row)
		}
	case models.TableDimGeo:
		for _, r := range t.rows {
			ds.Geos = append(ds.Geos, models.GeoRow{
				GeoID:   t.integer(r, "GeoID"),
				Region:  t.str(r, "Region"),
				Country: t.str(r, "Country"),
			})
		}
	case models.TableDimChannel:
		for _, r := range t.rows {
			ds.Channels = append(ds.Channels, models.ChannelRow{
				ChannelID:   t.integer(r, "ChannelID"),
				ChannelName: t.str(r, "ChannelName"),
				Type:        t.str(r, "Type"),
			})
		}
	case models.TableDimProduct:
		for _, r := range t.rows {
			ds.Products = append(ds.Products, models.ProductRow{
				ProductID:   t.integer(r, "ProductID"),
				ProductName: t.str(r, "ProductName"),
				Category:    t.str(r, "Category"),
				Subcategory: t.str(r, "Subcategory"),
			})
		}
	case models.TableDimCustomer:
		for _, r := range t.rows {
			ds.Customers = append(ds.Customers, models.CustomerRow{
				CustomerID: t.integer(r, "CustomerID"),
				Region:     t.str(r, "Region"),
				Country:    t.str(r, "Country"),
				Segment:    t.str(r, "Segment"),
			})
		}
	case models.TableFactSubscriptions:
		for _, r := range t.rows {
			sub := models.Subscription{
				CustomerID: t.integer(r, "CustomerID"),
				StartDate:  t.date(r, "StartDate"),
			}
			if end := t.date(r, "EndDate"); !end.IsZero() {
				sub.EndDate = &end
			}
			ds.Subscriptions = append(ds.Subscriptions, sub)
		}
	case models.TableFactSales:
		for _, r := range t.rows {
			ds.Sales = append(ds.Sales, models.SaleRow{
				DateKey:        t.integer(r, "DateKey"),
				ProductID:      t.integer(r, "ProductID"),
				ChannelID:      t.integer(r, "ChannelID"),
				CustomerID:     t.integer(r, "CustomerID"),
				Qty:            t.num(r, "Qty"),
				UnitPrice:      t.num(r, "UnitPrice"),
				Discount:       t.num(r, "Discount"),
				Cost:           t.num(r, "Cost"),
				IsSubscription: t.flag(r, "IsSubscription"),
			})
		}
	case models.TableFactWeb:
		for _, r := range t.rows {
			ds.Web = append(ds.Web, models.WebRow{
				DateKey:     t.integer(r, "DateKey"),
				ChannelID:   t.integer(r, "ChannelID"),
				Sessions:    t.num(r, "Sessions"),
				Conversions: t.num(r, "Conversions"),
				Spend:       t.num(r, "Spend"),
			})
		}
	case models.TableFactBudget:
		for _, r := range t.rows {
			ds.Budget = append(ds.Budget, models.BudgetRow{
				DateKey:       t.integer(r, "DateKey"),
				Category:      t.str(r, "Category"),
				ChannelID:     t.integer(r, "ChannelID"),
				BudgetRevenue: t.num(r, "BudgetRevenue"),
				BudgetMRR:     t.num(r, "BudgetMRR"),
			})
		}
	}
}
