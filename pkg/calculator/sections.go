package calculator

import (
	"strconv"
	"time"

	"analytics-engine/pkg/aggregate"
	"analytics-engine/pkg/cohort"
	"analytics-engine/pkg/metrics"
	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"
	"analytics-engine/pkg/timeseries"
)

/*
KPIS → revenu, coût, marge, MRR/ARR et abonnements au dernier jour de la fenêtre.
*/

func kpisSection(st *state) error {
	rev := make([]float64, 0, len(st.sales))
	cost := make([]float64, 0, len(st.sales))
	for _, tx := range st.sales {
		d := metrics.Derive(tx, st.filters.ExtraDiscount)
		rev = append(rev, d.RevenueAdj)
		cost = append(cost, d.Cost)
	}
	revenue, _ := aggregate.Sum(rev)
	costTotal, _ := aggregate.Sum(cost)
	gm := revenue - costTotal

	mrr := 0.0
	if p, ok := timeseries.Last(mrrSeries(st)); ok {
		mrr = p.Value
	}

	asOf := truncateDay(st.filters.To)
	active, newSubs, churned := subscriptionCounts(st.ds.Subscriptions, asOf)
	denom := active + churned - newSubs
	if denom < 1 {
		denom = 1
	}

	st.report.KPIs = models.KPIs{
		AsOf:           asOf,
		Revenue:        models.Number(revenue),
		Cost:           models.Number(costTotal),
		GrossMargin:    models.Number(gm),
		GrossMarginPct: models.Number(metrics.Div(gm, revenue)),
		MRR:            models.Number(mrr),
		ARR:            models.Number(mrr * 12),
		ActiveSubs:     active,
		NewSubs:        newSubs,
		ChurnedSubs:    churned,
		ChurnRate:      models.Number(float64(churned) / float64(denom)),
	}
	return nil
}

// mrrSeries : revenu mensuel des lignes d'abonnement, mois vides à 0.
func mrrSeries(st *state) timeseries.Series {
	obs := make([]timeseries.Observation, 0)
	for _, tx := range st.sales {
		if !tx.IsSubscription {
			continue
		}
		d := metrics.Derive(tx, st.filters.ExtraDiscount)
		obs = append(obs, timeseries.Observation{Date: tx.Date, Value: d.RevenueAdj})
	}
	return timeseries.Reindex(timeseries.MonthlySum(obs), 0)
}

// subscriptionCounts compte des clients distincts : actifs à asOf, démarrés et terminés
// dans le mois de asOf.
func subscriptionCounts(subs []models.Subscription, asOf time.Time) (active, newSubs, churned int) {
	month := period.MonthKey(asOf)
	if !month.Valid() {
		return 0, 0, 0
	}
	activeIDs, newIDs, churnedIDs := map[int]bool{}, map[int]bool{}, map[int]bool{}
	for _, s := range subs {
		start := truncateDay(s.StartDate)
		var end time.Time
		if s.EndDate != nil {
			end = truncateDay(*s.EndDate)
		}
		if !start.IsZero() && !start.After(asOf) && (end.IsZero() || !end.Before(asOf)) {
			activeIDs[s.CustomerID] = true
		}
		if period.MonthKey(start) == month {
			newIDs[s.CustomerID] = true
		}
		if period.MonthKey(end) == month {
			churnedIDs[s.CustomerID] = true
		}
	}
	return len(activeIDs), len(newIDs), len(churnedIDs)
}

/*
TREND → séries mensuelles contiguës (mois sans vente = 0) puis YoY.
*/

func trendSection(st *state) error {
	obs := make([]timeseries.Observation, 0, len(st.sales))
	for _, tx := range st.sales {
		d := metrics.Derive(tx, st.filters.ExtraDiscount)
		obs = append(obs, timeseries.Observation{Date: tx.Date, Value: d.RevenueAdj})
	}
	revenue := timeseries.Reindex(timeseries.MonthlySum(obs), 0)

	st.report.Trend = models.Trend{
		Revenue: seriesPoints(revenue),
		YoY:     seriesPoints(timeseries.DropUndefined(timeseries.YoY(revenue))),
		MRR:     seriesPoints(mrrSeries(st)),
	}
	return nil
}

func seriesPoints(s timeseries.Series) []models.SeriesPoint {
	out := make([]models.SeriesPoint, 0, len(s))
	for _, p := range s {
		out = append(out, models.SeriesPoint{Period: p.Period.String(), Value: models.Number(p.Value)})
	}
	return out
}

/*
PRODUCTS → marge par catégorie / sous-catégorie et meilleurs produits.
*/

func productsSection(st *state) error {
	extra := st.filters.ExtraDiscount
	byCat := aggregate.GroupSum(
		saleRecords(st.sales, extra, models.DimCategory, models.DimSubcategory),
		[]string{models.DimCategory, models.DimSubcategory},
		[]string{mRevenueAdj, mCost}, false,
	).Derive("gm_pct", func(r aggregate.Row) float64 {
		return metrics.Div(r.Value(mRevenueAdj)-r.Value(mCost), r.Value(mRevenueAdj))
	})

	cats := make([]models.CategoryMargin, 0, len(byCat.Rows))
	for _, r := range byCat.Rows {
		cats = append(cats, models.CategoryMargin{
			Category:       byCat.Dim(r, models.DimCategory),
			Subcategory:    byCat.Dim(r, models.DimSubcategory),
			Revenue:        models.Number(r.Value(mRevenueAdj)),
			Cost:           models.Number(r.Value(mCost)),
			GrossMarginPct: models.Number(r.Value("gm_pct")),
		})
	}

	top := aggregate.GroupSum(
		saleRecords(st.sales, extra, models.DimProduct),
		[]string{models.DimProduct},
		[]string{mRevenueAdj}, false,
	).SortBy(mRevenueAdj, true).Head(st.top)

	products := make([]models.ProductRevenue, 0, len(top.Rows))
	for _, r := range top.Rows {
		id, err := strconv.Atoi(top.Dim(r, models.DimProduct))
		if err != nil {
			return err
		}
		p := st.lk.products[id]
		products = append(products, models.ProductRevenue{
			ProductID:   id,
			ProductName: p.ProductName,
			Category:    p.Category,
			Subcategory: p.Subcategory,
			Revenue:     models.Number(r.Value(mRevenueAdj)),
		})
	}

	st.report.Products = models.Products{ByCategory: cats, Top: products}
	return nil
}

/*
MARKETING → trafic web filtré (dates + canaux) et revenu par session / ROAS.
*/

func marketingSection(st *state) error {
	web := webRecords(st.ds, st.lk, st.window, st.filters)
	chm := []string{models.DimChannel}

	totals := aggregate.GroupSum(web, nil, []string{mSessions, mConversions, mSpend}, false)
	sessions, conversions, spend := totals.Total(mSessions), totals.Total(mConversions), totals.Total(mSpend)

	revenue := aggregate.GroupSum(saleRecords(st.sales, st.filters.ExtraDiscount, models.DimChannel), chm, []string{mRevenueAdj}, true)
	traffic := aggregate.GroupSum(web, chm, []string{mSessions, mSpend}, true)
	joined, err := aggregate.Join(revenue, traffic, aggregate.RightJoin)
	if err != nil {
		return err
	}
	merged := joined.Ratio("rps", mRevenueAdj, mSessions).Ratio("roas", mRevenueAdj, mSpend)

	byChm := make([]models.ChannelMonth, 0, len(merged.Rows))
	for _, r := range merged.Rows {
		byChm = append(byChm, models.ChannelMonth{
			Channel:           merged.Dim(r, models.DimChannel),
			Month:             r.Period.String(),
			Revenue:           models.Number(r.Value(mRevenueAdj)),
			Sessions:          models.Number(r.Value(mSessions)),
			Spend:             models.Number(r.Value(mSpend)),
			RevenuePerSession: models.Number(r.Value("rps")),
			ROAS:              models.Number(r.Value("roas")),
		})
	}

	perChannel := joined.Rollup(chm, false).Ratio("roas", mRevenueAdj, mSpend)
	channels := make([]models.ChannelPerformance, 0, len(perChannel.Rows))
	for _, r := range perChannel.Rows {
		channels = append(channels, models.ChannelPerformance{
			Channel:  perChannel.Dim(r, models.DimChannel),
			Revenue:  models.Number(r.Value(mRevenueAdj)),
			Sessions: models.Number(r.Value(mSessions)),
			Spend:    models.Number(r.Value(mSpend)),
			ROAS:     models.Number(r.Value("roas")),
		})
	}

	st.report.Marketing = models.Marketing{
		Sessions:          models.Number(sessions),
		Conversions:       models.Number(conversions),
		Spend:             models.Number(spend),
		ConversionRate:    models.Number(metrics.Div(conversions, sessions)),
		RevenuePerSession: models.Number(metrics.Div(merged.Total(mRevenueAdj), merged.Total(mSessions))),
		ByChannelMonth:    byChm,
		Channels:          channels,
	}
	return nil
}

/*
BUDGET → revenu réel par (mois, catégorie, canal) aligné à gauche sur le budget.
Un budget absent donne un écart indéfini.
*/

func budgetSection(st *state) error {
	by := []string{models.DimCategory, models.DimChannel}
	actual := aggregate.GroupSum(saleRecords(st.sales, st.filters.ExtraDiscount, by...), by, []string{mRevenueAdj}, true)
	budget := aggregate.GroupSum(budgetRecords(st.ds, st.lk), by, []string{mBudget}, true)

	aligned, err := aggregate.Join(actual, budget, aggregate.LeftJoin)
	if err != nil {
		return err
	}
	aligned = aligned.
		Derive("variance", func(r aggregate.Row) float64 { return r.Value(mRevenueAdj) - r.Value(mBudget) }).
		Ratio("variance_pct", "variance", mBudget)

	lines := make([]models.BudgetLine, 0, len(aligned.Rows))
	for _, r := range aligned.Rows {
		lines = append(lines, models.BudgetLine{
			Month:         r.Period.String(),
			Category:      aligned.Dim(r, models.DimCategory),
			Channel:       aligned.Dim(r, models.DimChannel),
			Revenue:       models.Number(r.Value(mRevenueAdj)),
			BudgetRevenue: models.Number(r.Value(mBudget)),
			Variance:      models.Number(r.Value("variance")),
			VariancePct:   models.Number(r.Value("variance_pct")),
		})
	}
	st.report.Budget = lines
	return nil
}

/*
COHORTS → matrice de rétention sur tous les abonnements (indépendante des filtres).
*/

func cohortsSection(st *state) error {
	lo, hi := st.ds.DateRange()
	m := cohort.Compute(st.ds.Subscriptions, monthEnds(lo, hi))

	out := models.Cohorts{Offsets: []string{}, Rows: []models.CohortRow{}}
	if m.Empty() {
		st.report.Cohorts = out
		return nil
	}
	out.Offsets = append(out.Offsets, m.Offsets...)
	for r, c := range m.Cohorts {
		values := make([]models.Number, len(m.Offsets))
		for i := range m.Offsets {
			values[i] = models.Number(m.Cells[r][i])
		}
		out.Rows = append(out.Rows, models.CohortRow{Cohort: c.String(), Size: m.Sizes[r], Values: values})
	}
	st.report.Cohorts = out
	return nil
}

// monthEnds renvoie les fins de mois comprises dans [lo, hi] : un mois entamé
// mais non terminé à hi n'est pas inclus.
func monthEnds(lo, hi time.Time) []time.Time {
	if lo.IsZero() || hi.IsZero() {
		return nil
	}
	hi = truncateDay(hi)
	var out []time.Time
	for m := period.MonthKey(lo); ; m = m.Next() {
		end := m.Next().Time().AddDate(0, 0, -1)
		if end.After(hi) {
			break
		}
		if !end.Before(truncateDay(lo)) {
			out = append(out, end)
		}
	}
	return out
}

/*
QUALITY → statistiques de chargement, dans l'ordre des tables.
*/

func qualitySection(st *state) error {
	out := make([]models.TableStats, 0, len(models.Tables))
	for _, name := range models.Tables {
		if s, ok := st.ds.Stats[name]; ok {
			out = append(out, s)
		}
	}
	st.report.Quality = out
	return nil
}
