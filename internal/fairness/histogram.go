package fairness

// Histogram counts observed slot landings for one board size so live
// outcomes can be compared with the binomial model.
type Histogram struct {
	Rows   int      `json:"rows"`
	Counts []uint64 `json:"counts"`
	Total  uint64   `json:"total"`
}

// NewHistogram returns an empty histogram with rows+1 buckets.
func NewHistogram(rows int) *Histogram {
	if rows < 0 {
		rows = 0
	}
	return &Histogram{Rows: rows, Counts: make([]uint64, rows+1)}
}

// Add records one landing. Slots outside [0, rows] are ignored.
func (h *Histogram) Add(slot int) {
	if slot < 0 || slot >= len(h.Counts) {
		return
	}
	h.Counts[slot]++
	h.Total++
}

// Merge folds other into h. Both must describe the same board.
func (h *Histogram) Merge(other *Histogram) {
	if other == nil || other.Rows != h.Rows {
		return
	}
	for i, c := range other.Counts {
		h.Counts[i] += c
	}
	h.Total += other.Total
}

// Expected returns the expected count per slot for Total landings.
func (h *Histogram) Expected() []float64 {
	probs := Probabilities(h.Rows)
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[i] = p * float64(h.Total)
	}
	return out
}

// ChiSquare is Pearson's statistic against Binomial(rows, 1/2), with
// rows degrees of freedom. It is 0 for an empty histogram.
func (h *Histogram) ChiSquare() (stat float64, dof int) {
	if h.Total == 0 {
		return 0, h.Rows
	}
	for i, exp := range h.Expected() {
		if exp == 0 {
			continue
		}
		diff := float64(h.Counts[i]) - exp
		stat += diff * diff / exp
	}
	return stat, h.Rows
}
