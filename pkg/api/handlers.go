package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"analytics-engine/pkg/cache"
	"analytics-engine/pkg/calculator"
	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"
	"analytics-engine/pkg/telemetry"

	"go.uber.org/zap"
)

// Handlers regroupe les handlers HTTP de l'API du tableau de bord.
type Handlers struct {
	datasets *cache.DatasetCache
	reports  cache.ReportCache
	calc     *calculator.Calculator
	metrics  *telemetry.Metrics
	log      *zap.Logger

	topProducts   int
	extraDiscount float64
}

// Options : valeurs par défaut du rapport quand la requête ne les précise pas.
type Options struct {
	TopProducts          int
	DefaultExtraDiscount float64
}

// NewHandlers : reports peut être nil (pas de cache de rapports).
func NewHandlers(datasets *cache.DatasetCache, reports cache.ReportCache, calc *calculator.Calculator,
	m *telemetry.Metrics, log *zap.Logger, opts Options) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		datasets:      datasets,
		reports:       reports,
		calc:          calc,
		metrics:       m,
		log:           log,
		topProducts:   opts.TopProducts,
		extraDiscount: opts.DefaultExtraDiscount,
	}
}

/*
RÉPONSES → JSON
*/

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

var errBadQuery = errors.New("bad query")

// parseFilters lit from, to (YYYY-MM-DD), channel, country, segment et extra_discount.
// Paramètres répétés ou listes séparées par des virgules : les deux sont acceptés.
func (h *Handlers) parseFilters(r *http.Request) (models.Filters, error) {
	q := r.URL.Query()
	f := models.Filters{ExtraDiscount: h.extraDiscount}

	var err error
	if f.From, err = dateParam(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = dateParam(q.Get("to"), "to"); err != nil {
		return f, err
	}

	f.Channels = listParam(q["channel"])
	f.Countries = listParam(q["country"])
	f.Segments = listParam(q["segment"])

	if raw := strings.TrimSpace(q.Get("extra_discount")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return f, fmt.Errorf("%w: extra_discount=%q", errBadQuery, raw)
		}
		f.ExtraDiscount = v
	}
	return f, nil
}

// dateParam : vide → date nulle ; illisible → erreur.
func dateParam(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t := period.ParseDate(raw)
	if t.IsZero() {
		return t, fmt.Errorf("%w: %s=%q is not a date", errBadQuery, name, raw)
	}
	return t, nil
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// report résout les filtres de r puis renvoie le rapport en cache ou fraîchement calculé.
// En cas d'échec la réponse d'erreur est déjà écrite et le retour vaut nil.
func (h *Handlers) report(w http.ResponseWriter, r *http.Request) *models.Report {
	filters, err := h.parseFilters(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil
	}

	ds, fp, err := h.datasets.Get(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "dataset unavailable")
		return nil
	}

	resolved, err := calculator.ResolveFilters(ds, filters)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return nil
	}

	key := cache.ReportKey(fp, resolved, h.topProducts)
	if h.reports != nil {
		rep, ok, err := h.reports.Get(r.Context(), key)
		if err != nil {
			h.log.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		if ok {
			return rep
		}
	}

	rep, err := h.calc.Run(r.Context(), ds, models.Config{Filters: resolved, TopProducts: h.topProducts})
	if err != nil {
		if errors.Is(err, calculator.ErrInvalidFilters) {
			respondError(w, http.StatusBadRequest, err.Error())
			return nil
		}
		h.log.Error("report failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "report failed")
		return nil
	}
	rep.Fingerprint = cache.FormatFingerprint(fp)

	if h.reports != nil {
		if err := h.reports.Set(r.Context(), key, rep); err != nil {
			h.log.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return rep
}

// section sert une partie du rapport.
func (h *Handlers) section(pick func(*models.Report) interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := h.report(w, r)
		if rep == nil {
			return
		}
		respondJSON(w, http.StatusOK, pick(rep))
	}
}

// Health : liveness + empreinte du Dataset chargé (0 si aucun).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"fingerprint": cache.FormatFingerprint(h.datasets.Fingerprint()),
	})
}

// Dashboard renvoie toutes les sections en un appel.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep })(w, r)
}

func (h *Handlers) KPIs(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.KPIs })(w, r)
}

func (h *Handlers) Trend(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Trend })(w, r)
}

func (h *Handlers) Products(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Products })(w, r)
}

func (h *Handlers) Marketing(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Marketing })(w, r)
}

func (h *Handlers) Budget(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Budget })(w, r)
}

// Cohorts renvoie la matrice de rétention. Matrice vide = pas de données.
func (h *Handlers) Cohorts(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Cohorts })(w, r)
}

func (h *Handlers) Quality(w http.ResponseWriter, r *http.Request) {
	h.section(func(rep *models.Report) interface{} { return rep.Quality })(w, r)
}

// InvalidateCache oublie le Dataset et vide le cache de rapports.
func (h *Handlers) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.datasets.Invalidate()
	if h.reports != nil {
		if err := h.reports.Flush(r.Context()); err != nil {
			h.log.Error("report cache flush failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, "cache flush failed")
			return
		}
	}
	h.log.Info("cache invalidated")
	respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
