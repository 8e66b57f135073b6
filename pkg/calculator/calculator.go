package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"analytics-engine/pkg/models"
	"analytics-engine/pkg/telemetry"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var ErrInvalidFilters = errors.New("invalid filters")

const defaultTopProducts = 25

// Calculator construit le rapport du tableau de bord à partir d'un Dataset.
// Il ne garde aucun état entre deux appels à Run.
type Calculator struct {
	log     *zap.Logger
	metrics *telemetry.Metrics
}

// New : log et m peuvent être nil.
func New(log *zap.Logger, m *telemetry.Metrics) *Calculator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Calculator{log: log, metrics: m}
}

// state : entrées partagées par toutes les sections d'un même calcul.
type state struct {
	ds      *models.Dataset
	lk      lookups
	filters models.Filters
	window  window
	sales   []models.Transaction // ventes filtrées
	top     int
	report  *models.Report
}

type section struct {
	name string
	fn   func(*state) error
}

var sections = []section{
	{"kpis", kpisSection},
	{"trend", trendSection},
	{"products", productsSection},
	{"marketing", marketingSection},
	{"budget", budgetSection},
	{"cohorts", cohortsSection},
	{"quality", qualitySection},
}

// ResolveFilters valide les filtres et complète la plage de dates avec celle de DimDate.
func ResolveFilters(ds *models.Dataset, f models.Filters) (models.Filters, error) {
	// NaN passe les comparaisons : on le rejette explicitement
	if d := f.ExtraDiscount; math.IsNaN(d) || math.IsInf(d, 0) || d < 0 || d > 1 {
		return f, fmt.Errorf("%w: extra_discount %v not within [0,1]", ErrInvalidFilters, d)
	}
	lo, hi := ds.DateRange()
	if f.From.IsZero() {
		f.From = lo
	}
	if f.To.IsZero() {
		f.To = hi
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, fmt.Errorf("%w: to %s < from %s", ErrInvalidFilters, f.To.Format(time.DateOnly), f.From.Format(time.DateOnly))
	}
	return f, nil
}

// Run calcule toutes les sections du rapport, dans l'ordre, pour cfg.Filters.
func (c *Calculator) Run(ctx context.Context, ds *models.Dataset, cfg models.Config) (*models.Report, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	filters, err := ResolveFilters(ds, cfg.Filters)
	if err != nil {
		return nil, err
	}
	top := cfg.TopProducts
	if top <= 0 {
		top = defaultTopProducts
	}

	began := time.Now()
	lk := newLookups(ds)
	w := newWindow(filters.From, filters.To)
	st := &state{
		ds:      ds,
		lk:      lk,
		filters: filters,
		window:  w,
		sales:   filterSales(enrichSales(ds, lk), w, filters),
		top:     top,
		report:  &models.Report{GeneratedAt: began.UTC(), Filters: filters},
	}

	var bar *progressbar.ProgressBar
	if cfg.Verbose {
		bar = progressbar.Default(int64(len(sections)))
	}
	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t0 := time.Now()
		if err := s.fn(st); err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if c.metrics != nil {
			c.metrics.SectionDuration.WithLabelValues(s.name).Observe(time.Since(t0).Seconds())
		}
		if bar != nil {
			_ = bar.Add(1)
		}
		if cfg.Verbose {
			c.log.Info("section computed", zap.String("section", s.name), zap.Duration("took", time.Since(t0)))
		}
	}

	if c.metrics != nil {
		c.metrics.ReportsComputed.Inc()
		c.metrics.ReportDuration.Observe(time.Since(began).Seconds())
	}
	c.log.Debug("report computed",
		zap.Int("sales", len(st.sales)),
		zap.Time("from", filters.From),
		zap.Time("to", filters.To),
		zap.Float64("extra_discount", filters.ExtraDiscount),
		zap.Duration("took", time.Since(began)))
	return st.report, nil
}
