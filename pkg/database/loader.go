package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"time"

	"analytics-engine/pkg/models"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]*$`)

// Open DSN mariadb:// ou mysql:// → format MySQL driver
func Open(dsn string) (*sql.DB, string, error) {
	mysqlDSN, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, mysqlDSN, nil
}

func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		user := ""
		pass := ""
		if u.User != nil {
			user = u.User.Username()
			pw, _ := u.User.Password()
			pass = pw
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", fmt.Errorf("incomplete dsn (user/host/db)")
		}
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db), nil
	}
	// DSN natif : loadDates et loadSubscriptions scannent des DATETIME, parseTime est obligatoire
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.ParseTime {
		return dsn, nil
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// RedactDSN masque le mot de passe d'un DSN natif pour les logs.
func RedactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	colon := strings.Index(dsn, ":")
	if at < 0 || colon < 0 || colon > at {
		return dsn
	}
	return dsn[:colon+1] + "***" + dsn[at:]
}

// Loader lit le schéma en étoile depuis MySQL/MariaDB.
// Prefix est ajouté devant chaque nom de table (ex: "dash_" -> dash_FactSales).
type Loader struct {
	db     *sql.DB
	prefix string
	log    *zap.Logger
}

func NewLoader(db *sql.DB, prefix string, log *zap.Logger) (*Loader, error) {
	if !identRe.MatchString(prefix) {
		return nil, fmt.Errorf("invalid table prefix %q", prefix)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{db: db, prefix: prefix, log: log}, nil
}

// scanFunc lit la ligne courante et renvoie le nombre de colonnes NULL.
type scanFunc func(rows *sql.Rows) (nulls int, err error)

func (l *Loader) query(ctx context.Context, table string, cols []string, scan scanFunc) (models.TableStats, error) {
	q := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), l.prefix, table)
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return models.TableStats{}, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	n, nulls := 0, 0
	for rows.Next() {
		k, err := scan(rows)
		if err != nil {
			return models.TableStats{}, fmt.Errorf("scan %s: %w", table, err)
		}
		n++
		nulls += k
	}
	if err := rows.Err(); err != nil {
		return models.TableStats{}, fmt.Errorf("rows %s: %w", table, err)
	}
	return models.NewTableStats(table, n, len(cols), nulls), nil
}

// Load lit les neuf tables en parallèle et construit un Dataset.
func (l *Loader) Load(ctx context.Context) (*models.Dataset, error) {
	start := time.Now()
	ds := &models.Dataset{Stats: make(map[string]models.TableStats, len(models.Tables))}
	stats := make([]models.TableStats, len(models.Tables))

	loaders := map[string]func(context.Context) (models.TableStats, error){
		models.TableDimDate:           func(ctx context.Context) (models.TableStats, error) { return l.loadDates(ctx, ds) },
		models.TableDimGeo:            func(ctx context.Context) (models.TableStats, error) { return l.loadGeos(ctx, ds) },
		models.TableDimChannel:        func(ctx context.Context) (models.TableStats, error) { return l.loadChannels(ctx, ds) },
		models.TableDimProduct:        func(ctx context.Context) (models.TableStats, error) { return l.loadProducts(ctx, ds) },
		models.TableDimCustomer:       func(ctx context.Context) (models.TableStats, error) { return l.loadCustomers(ctx, ds) },
		models.TableFactSubscriptions: func(ctx context.Context) (models.TableStats, error) { return l.loadSubscriptions(ctx, ds) },
		models.TableFactSales:         func(ctx context.Context) (models.TableStats, error) { return l.loadSales(ctx, ds) },
		models.TableFactWeb:           func(ctx context.Context) (models.TableStats, error) { return l.loadWeb(ctx, ds) },
		models.TableFactBudget:        func(ctx context.Context) (models.TableStats, error) { return l.loadBudget(ctx, ds) },
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range models.Tables {
		i, load := i, loaders[name]
		g.Go(func() error {
			st, err := load(gctx)
			if err != nil {
				return err
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, st := range stats {
		ds.Stats[st.Table] = st
	}

	l.log.Info("dataset loaded from database",
		zap.Int("sales", len(ds.Sales)),
		zap.Int("subscriptions", len(ds.Subscriptions)),
		zap.Duration("elapsed", time.Since(start)))
	return ds, nil
}

func nulls(vals ...bool) int {
	n := 0
	for _, valid := range vals {
		if !valid {
			n++
		}
	}
	return n
}

func intOf(v sql.NullInt64) int {
	if !v.Valid {
		return 0
	}
	return int(v.Int64)
}

func floatOf(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func timeOf(v sql.NullTime) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return v.Time.UTC()
}

func (l *Loader) loadDates(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableDimDate, []string{"DateKey", "Date", "Year", "Month", "MonthIdx"}, func(rows *sql.Rows) (int, error) {
		var key, year, month, idx sql.NullInt64
		var date sql.NullTime
		if err := rows.Scan(&key, &date, &year, &month, &idx); err != nil {
			return 0, err
		}
		ds.Dates = append(ds.Dates, models.DateRow{
			DateKey: intOf(key), Date: timeOf(date), Year: intOf(year), Month: intOf(month), MonthIdx: intOf(idx),
		})
		return nulls(key.Valid, date.Valid, year.Valid, month.Valid, idx.Valid), nil
	})
}

func (l *Loader) loadGeos(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableDimGeo, []string{"GeoID", "Region", "Country"}, func(rows *sql.Rows) (int, error) {
		var id sql.NullInt64
		var region, country sql.NullString
		if err := rows.Scan(&id, &region, &country); err != nil {
			return 0, err
		}
		ds.Geos = append(ds.Geos, models.GeoRow{GeoID: intOf(id), Region: region.String, Country: country.String})
		return nulls(id.Valid, region.Valid, country.Valid), nil
	})
}

func (l *Loader) loadChannels(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableDimChannel, []string{"ChannelID", "ChannelName", "Type"}, func(rows *sql.Rows) (int, error) {
		var id sql.NullInt64
		var name, typ sql.NullString
		if err := rows.Scan(&id, &name, &typ); err != nil {
			return 0, err
		}
		ds.Channels = append(ds.Channels, models.ChannelRow{ChannelID: intOf(id), ChannelName: name.String, Type: typ.String})
		return nulls(id.Valid, name.Valid, typ.Valid), nil
	})
}

func (l *Loader) loadProducts(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableDimProduct, []string{"ProductID", "ProductName", "Category", "Subcategory"}, func(rows *sql.Rows) (int, error) {
		var id sql.NullInt64
		var name, cat, sub sql.NullString
		if err := rows.Scan(&id, &name, &cat, &sub); err != nil {
			return 0, err
		}
		ds.Products = append(ds.Products, models.ProductRow{
			ProductID: intOf(id), ProductName: name.String, Category: cat.String, Subcategory: sub.String,
		})
		return nulls(id.Valid, name.Valid, cat.Valid, sub.Valid), nil
	})
}

func (l *Loader) loadCustomers(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableDimCustomer, []string{"CustomerID", "Region", "Country", "Segment"}, func(rows *sql.Rows) (int, error) {
		var id sql.NullInt64
		var region, country, segment sql.NullString
		if err := rows.Scan(&id, &region, &country, &segment); err != nil {
			return 0, err
		}
		ds.Customers = append(ds.Customers, models.CustomerRow{
			CustomerID: intOf(id), Region: region.String, Country: country.String, Segment: segment.String,
		})
		return nulls(id.Valid, region.Valid, country.Valid, segment.Valid), nil
	})
}

func (l *Loader) loadSubscriptions(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	return l.query(ctx, models.TableFactSubscriptions, []string{"CustomerID", "StartDate", "EndDate"}, func(rows *sql.Rows) (int, error) {
		var id sql.NullInt64
		var startDate, endDate sql.NullTime
		if err := rows.Scan(&id, &startDate, &endDate); err != nil {
			return 0, err
		}
		sub := models.Subscription{CustomerID: intOf(id), StartDate: timeOf(startDate)}
		if endDate.Valid {
			end := endDate.Time.UTC()
			sub.EndDate = &end
		}
		ds.Subscriptions = append(ds.Subscriptions, sub)
		return nulls(id.Valid, startDate.Valid, endDate.Valid), nil
	})
}

func (l *Loader) loadSales(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	cols := []string{"DateKey", "ProductID", "ChannelID", "CustomerID", "Qty", "UnitPrice", "Discount", "Cost", "IsSubscription"}
	return l.query(ctx, models.TableFactSales, cols, func(rows *sql.Rows) (int, error) {
		var dateKey, productID, channelID, customerID, isSub sql.NullInt64
		var qty, price, discount, cost sql.NullFloat64
		if err := rows.Scan(&dateKey, &productID, &channelID, &customerID, &qty, &price, &discount, &cost, &isSub); err != nil {
			return 0, err
		}
		ds.Sales = append(ds.Sales, models.SaleRow{
			DateKey:        intOf(dateKey),
			ProductID:      intOf(productID),
			ChannelID:      intOf(channelID),
			CustomerID:     intOf(customerID),
			Qty:            floatOf(qty),
			UnitPrice:      floatOf(price),
			Discount:       floatOf(discount),
			Cost:           floatOf(cost),
			IsSubscription: isSub.Valid && isSub.Int64 == 1,
		})
		return nulls(dateKey.Valid, productID.Valid, channelID.Valid, customerID.Valid,
			qty.Valid, price.Valid, discount.Valid, cost.Valid, isSub.Valid), nil
	})
}

func (l *Loader) loadWeb(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	cols := []string{"DateKey", "ChannelID", "Sessions", "Conversions", "Spend"}
	return l.query(ctx, models.TableFactWeb, cols, func(rows *sql.Rows) (int, error) {
		var dateKey, channelID sql.NullInt64
		var sessions, conversions, spend sql.NullFloat64
		if err := rows.Scan(&dateKey, &channelID, &sessions, &conversions, &spend); err != nil {
			return 0, err
		}
		ds.Web = append(ds.Web, models.WebRow{
			DateKey: intOf(dateKey), ChannelID: intOf(channelID),
			Sessions: floatOf(sessions), Conversions: floatOf(conversions), Spend: floatOf(spend),
		})
		return nulls(dateKey.Valid, channelID.Valid, sessions.Valid, conversions.Valid, spend.Valid), nil
	})
}

func (l *Loader) loadBudget(ctx context.Context, ds *models.Dataset) (models.TableStats, error) {
	cols := []string{"DateKey", "Category", "ChannelID", "BudgetRevenue", "BudgetMRR"}
	return l.query(ctx, models.TableFactBudget, cols, func(rows *sql.Rows) (int, error) {
		var dateKey, channelID sql.NullInt64
		var category sql.NullString
		var revenue, mrr sql.NullFloat64
		if err := rows.Scan(&dateKey, &category, &channelID, &revenue, &mrr); err != nil {
			return 0, err
		}
		ds.Budget = append(ds.Budget, models.BudgetRow{
			DateKey: intOf(dateKey), Category: category.String, ChannelID: intOf(channelID),
			BudgetRevenue: floatOf(revenue), BudgetMRR: floatOf(mrr),
		})
		return nulls(dateKey.Valid, category.Valid, channelID.Valid, revenue.Valid, mrr.Valid), nil
	})
}
