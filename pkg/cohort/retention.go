// Package cohort construit la matrice de rétention cohorte × mois à partir
// des dates de début et de fin d'abonnement.
package cohort

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"analytics-engine/pkg/models"
	"analytics-engine/pkg/period"
)

// Matrix : lignes = mois de démarrage de cohorte (croissants), colonnes = "M+i".
//
// i est la position du mois sur l'axe absolu Months (du min au max de l'index de dates),
// pas un décalage relatif au démarrage de chaque cohorte : pour une cohorte qui démarre
// après Months[0], les colonnes antérieures à son démarrage valent 0.
// Ce comportement est conservé tel quel pour compatibilité ; il est probablement involontaire.
type Matrix struct {
	Cohorts []period.Key
	Sizes   []int
	Months  []period.Key
	Offsets []string
	Cells   [][]float64 // Cells[cohorte][offset]
}

// Empty signifie "pas de données" : l'appelant ne doit rien afficher.
func (m Matrix) Empty() bool {
	return len(m.Cohorts) == 0 || len(m.Months) == 0
}

// Value renvoie la rétention de la cohorte c à l'offset i ; ok=false hors matrice.
func (m Matrix) Value(c period.Key, i int) (float64, bool) {
	for r, k := range m.Cohorts {
		if k == c {
			if i < 0 || i >= len(m.Cells[r]) {
				return 0, false
			}
			return m.Cells[r][i], true
		}
	}
	return 0, false
}

// Row est la forme "cohorte -> {offset -> ratio}" exposée aux consommateurs.
type Row struct {
	Cohort string             `json:"cohort"`
	Size   int                `json:"size"`
	Values map[string]float64 `json:"values"`
}

// Rows renvoie les lignes dans l'ordre des cohortes.
func (m Matrix) Rows() []Row {
	rows := make([]Row, 0, len(m.Cohorts))
	for r, c := range m.Cohorts {
		values := make(map[string]float64, len(m.Offsets))
		for i, off := range m.Offsets {
			values[off] = m.Cells[r][i]
		}
		rows = append(rows, Row{Cohort: c.String(), Size: m.Sizes[r], Values: values})
	}
	return rows
}

func (m Matrix) MarshalJSON() ([]byte, error) {
	offsets := m.Offsets
	if offsets == nil {
		offsets = []string{}
	}
	return json.Marshal(struct {
		Offsets []string `json:"offsets"`
		Rows    []Row    `json:"rows"`
	}{Offsets: offsets, Rows: m.Rows()})
}

type member struct {
	start period.Key
	end   period.Key // Missing = ouvert
}

// Compute(subscriptions, globalDateIndex) -> matrice de rétention.
// Recalculée entièrement à chaque appel ; ni l'entrée ni aucun état partagé ne sont modifiés.
func Compute(subs []models.Subscription, dateIndex []time.Time) Matrix {
	lo, hi, ok := period.Span(dateIndex)
	if !ok {
		return Matrix{}
	}
	months := period.KeysBetweenInclusive(lo, hi)

	// 1-2. StartMonth / EndMonth ; un début manquant exclut l'abonnement de toute cohorte
	members := make([]member, 0, len(subs))
	sizes := map[period.Key]int{}
	for _, s := range subs {
		start := period.MonthKey(s.StartDate)
		if !start.Valid() {
			continue
		}
		end := period.Missing
		if s.EndDate != nil {
			end = period.MonthKey(*s.EndDate)
		}
		members = append(members, member{start: start, end: end})
		sizes[start]++
	}

	// 3. cohortes distinctes, triées
	cohorts := make([]period.Key, 0, len(sizes))
	for c, n := range sizes {
		// 5. une cohorte vide n'est jamais émise
		if n > 0 {
			cohorts = append(cohorts, c)
		}
	}
	if len(cohorts) == 0 {
		return Matrix{}
	}
	sort.Slice(cohorts, func(i, j int) bool { return cohorts[i] < cohorts[j] })

	row := make(map[period.Key]int, len(cohorts))
	for r, c := range cohorts {
		row[c] = r
	}

	// 6. comptage des actifs par (cohorte, mois)
	active := make([][]int, len(cohorts))
	for r := range active {
		active[r] = make([]int, len(months))
	}
	for _, mb := range members {
		r := row[mb.start]
		for i, m := range months {
			if mb.start <= m && (!mb.end.Valid() || mb.end >= m) {
				active[r][i]++
			}
		}
	}

	out := Matrix{
		Cohorts: cohorts,
		Sizes:   make([]int, len(cohorts)),
		Months:  months,
		Offsets: make([]string, len(months)),
		Cells:   make([][]float64, len(cohorts)),
	}
	// 7. libellés d'offset sur l'axe absolu
	for i := range months {
		out.Offsets[i] = fmt.Sprintf("M+%d", i)
	}
	for r, c := range cohorts {
		size := sizes[c]
		out.Sizes[r] = size
		out.Cells[r] = make([]float64, len(months))
		for i := range months {
			out.Cells[r][i] = float64(active[r][i]) / float64(size)
		}
	}
	return out
}
