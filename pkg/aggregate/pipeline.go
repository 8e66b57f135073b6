// Package aggregate regroupe des enregistrements par (mois × dimensions), somme des mesures
// et aligne le résultat sur une table de référence (budget, sessions web...).
//
// Politique des valeurs indéfinies (NaN) : une somme ignore les valeurs indéfinies ;
// si toutes les contributions d'un groupe sont indéfinies, la somme est indéfinie ;
// un groupe sans contribution somme à 0.
package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"analytics-engine/pkg/metrics"
	"analytics-engine/pkg/period"
)

var (
	ErrKeyMismatch     = errors.New("aggregate: join keys differ")
	ErrMeasureConflict = errors.New("aggregate: measure present on both sides")
)

// JoinHow choisit le côté préservé par Join.
type JoinHow int

const (
	LeftJoin JoinHow = iota
	RightJoin
	OuterJoin
)

func (h JoinHow) String() string {
	switch h {
	case LeftJoin:
		return "left"
	case RightJoin:
		return "right"
	case OuterJoin:
		return "outer"
	}
	return "unknown"
}

// Record est une ligne d'entrée générique.
type Record struct {
	Period   period.Key
	Dims     map[string]string
	Measures map[string]float64
}

// Row est une ligne agrégée. Dims suit l'ordre de Table.Dims.
type Row struct {
	Period period.Key
	Dims   []string
	Values map[string]float64
}

// Value renvoie une mesure, indéfinie si absente.
func (r Row) Value(name string) float64 {
	v, ok := r.Values[name]
	if !ok {
		return metrics.Undefined()
	}
	return v
}

// Table est le résultat d'un regroupement. Les lignes sont triées par clé.
type Table struct {
	ByPeriod bool
	Dims     []string
	Measures []string
	Rows     []Row
}

// Dim renvoie la valeur de la dimension name pour la ligne r.
func (t Table) Dim(r Row, name string) string {
	for i, d := range t.Dims {
		if d == name {
			return r.Dims[i]
		}
	}
	return ""
}

// Sum applique la politique d'indéfini et renvoie le nombre de valeurs ignorées.
func Sum(values []float64) (total float64, skipped int) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		if metrics.IsUndefined(v) {
			skipped++
			continue
		}
		total += v
	}
	if skipped == len(values) {
		return metrics.Undefined(), skipped
	}
	return total, skipped
}

func encodeKey(p period.Key, dims []string) string {
	return strconv.Itoa(int(p)) + "\x1f" + strings.Join(dims, "\x1f")
}

func lessRow(a, b Row) bool {
	if a.Period != b.Period {
		return a.Period < b.Period
	}
	for i := range a.Dims {
		if a.Dims[i] != b.Dims[i] {
			return a.Dims[i] < b.Dims[i]
		}
	}
	return false
}

type groupAcc struct {
	row      Row
	sums     []float64
	defined  []int
	contribs []int
}

// GroupSum regroupe records par (Period si byPeriod) × by, et somme chaque mesure.
// Un enregistrement sans période valide est ignoré quand byPeriod est demandé.
func GroupSum(records []Record, by []string, measures []string, byPeriod bool) Table {
	groups := map[string]*groupAcc{}
	for _, rec := range records {
		p := period.Missing
		if byPeriod {
			if !rec.Period.Valid() {
				continue
			}
			p = rec.Period
		}
		dims := make([]string, len(by))
		for i, d := range by {
			dims[i] = rec.Dims[d]
		}
		key := encodeKey(p, dims)
		g, ok := groups[key]
		if !ok {
			g = &groupAcc{
				row:      Row{Period: p, Dims: dims},
				sums:     make([]float64, len(measures)),
				defined:  make([]int, len(measures)),
				contribs: make([]int, len(measures)),
			}
			groups[key] = g
		}
		for i, m := range measures {
			v, ok := rec.Measures[m]
			if !ok {
				continue
			}
			g.contribs[i]++
			if metrics.IsUndefined(v) {
				continue
			}
			g.sums[i] += v
			g.defined[i]++
		}
	}

	out := Table{
		ByPeriod: byPeriod,
		Dims:     append([]string(nil), by...),
		Measures: append([]string(nil), measures...),
		Rows:     make([]Row, 0, len(groups)),
	}
	for _, g := range groups {
		g.row.Values = make(map[string]float64, len(measures))
		for i, m := range measures {
			v := g.sums[i]
			if g.contribs[i] > 0 && g.defined[i] == 0 {
				v = metrics.Undefined()
			}
			g.row.Values[m] = v
		}
		out.Rows = append(out.Rows, g.row)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return lessRow(out.Rows[i], out.Rows[j]) })
	return out
}

func sameDims(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Join aligne left et right sur (Period, Dims). Les mesures du côté sans correspondance
// sont indéfinies, jamais 0 : un budget absent donne un écart indéfini.
func Join(left, right Table, how JoinHow) (Table, error) {
	if left.ByPeriod != right.ByPeriod || !sameDims(left.Dims, right.Dims) {
		return Table{}, fmt.Errorf("%w: %v/%v vs %v/%v", ErrKeyMismatch, left.ByPeriod, left.Dims, right.ByPeriod, right.Dims)
	}
	seen := map[string]bool{}
	for _, m := range left.Measures {
		seen[m] = true
	}
	for _, m := range right.Measures {
		if seen[m] {
			return Table{}, fmt.Errorf("%w: %s", ErrMeasureConflict, m)
		}
	}

	out := Table{
		ByPeriod: left.ByPeriod,
		Dims:     append([]string(nil), left.Dims...),
		Measures: append(append([]string(nil), left.Measures...), right.Measures...),
	}

	rightByKey := make(map[string]Row, len(right.Rows))
	for _, r := range right.Rows {
		rightByKey[encodeKey(r.Period, r.Dims)] = r
	}
	leftKeys := make(map[string]bool, len(left.Rows))

	merge := func(base Row, l, r *Row) Row {
		row := Row{Period: base.Period, Dims: append([]string(nil), base.Dims...), Values: map[string]float64{}}
		for _, m := range left.Measures {
			row.Values[m] = metrics.Undefined()
			if l != nil {
				row.Values[m] = l.Value(m)
			}
		}
		for _, m := range right.Measures {
			row.Values[m] = metrics.Undefined()
			if r != nil {
				row.Values[m] = r.Value(m)
			}
		}
		return row
	}

	for i := range left.Rows {
		l := left.Rows[i]
		key := encodeKey(l.Period, l.Dims)
		leftKeys[key] = true
		r, ok := rightByKey[key]
		switch {
		case ok:
			out.Rows = append(out.Rows, merge(l, &l, &r))
		case how == LeftJoin || how == OuterJoin:
			out.Rows = append(out.Rows, merge(l, &l, nil))
		}
	}
	if how == RightJoin || how == OuterJoin {
		for i := range right.Rows {
			r := right.Rows[i]
			if leftKeys[encodeKey(r.Period, r.Dims)] {
				continue
			}
			out.Rows = append(out.Rows, merge(r, nil, &r))
		}
	}
	sort.Slice(out.Rows, func(i, j int) bool { return lessRow(out.Rows[i], out.Rows[j]) })
	return out, nil
}

// Derive renvoie une nouvelle table avec la mesure name = fn(ligne).
func (t Table) Derive(name string, fn func(Row) float64) Table {
	out := Table{
		ByPeriod: t.ByPeriod,
		Dims:     t.Dims,
		Measures: append(append([]string(nil), t.Measures...), name),
		Rows:     make([]Row, len(t.Rows)),
	}
	for i, r := range t.Rows {
		values := make(map[string]float64, len(r.Values)+1)
		for k, v := range r.Values {
			values[k] = v
		}
		values[name] = fn(r)
		out.Rows[i] = Row{Period: r.Period, Dims: r.Dims, Values: values}
	}
	return out
}

// Ratio ajoute name = num / den, indéfini si den vaut 0.
func (t Table) Ratio(name, num, den string) Table {
	return t.Derive(name, func(r Row) float64 {
		return metrics.Div(r.Value(num), r.Value(den))
	})
}

// Total somme une mesure sur toutes les lignes (politique de Sum).
func (t Table) Total(measure string) float64 {
	values := make([]float64, 0, len(t.Rows))
	for _, r := range t.Rows {
		values = append(values, r.Value(measure))
	}
	total, _ := Sum(values)
	return total
}

// Rollup regroupe à nouveau les lignes sur un sous-ensemble de dimensions.
func (t Table) Rollup(by []string, byPeriod bool) Table {
	records := make([]Record, 0, len(t.Rows))
	for _, r := range t.Rows {
		dims := make(map[string]string, len(t.Dims))
		for i, d := range t.Dims {
			dims[d] = r.Dims[i]
		}
		records = append(records, Record{Period: r.Period, Dims: dims, Measures: r.Values})
	}
	return GroupSum(records, by, t.Measures, byPeriod && t.ByPeriod)
}

// SortBy trie (copie) par mesure ; les valeurs indéfinies vont en fin.
func (t Table) SortBy(measure string, desc bool) Table {
	out := t
	out.Rows = append([]Row(nil), t.Rows...)
	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := out.Rows[i].Value(measure), out.Rows[j].Value(measure)
		ua, ub := metrics.IsUndefined(a), metrics.IsUndefined(b)
		if ua || ub {
			return !ua && ub
		}
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

// Head garde les n premières lignes (n <= 0 : toutes).
func (t Table) Head(n int) Table {
	out := t
	if n > 0 && len(t.Rows) > n {
		out.Rows = append([]Row(nil), t.Rows[:n]...)
	}
	return out
}
