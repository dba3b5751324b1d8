package sim

import (
	"fmt"
	"slices"

	"github.com/avictorious/fpsim/pkg/pars"
	"github.com/avictorious/fpsim/pkg/people"
	"github.com/avictorious/fpsim/pkg/sampling"
)

// Column names of the family-planning population.
const (
	MethodKey            = "method"
	ParityKey            = "parity"
	PregnantKey          = "pregnant"
	SexuallyActiveKey    = "sexually_active"
	LactatingKey         = "lactating"
	PostpartumKey        = "postpartum"
	PersonalFecundityKey = "personal_fecundity"
	DobsKey              = "dobs"
	StillDatesKey        = "still_dates"
	MiscarriageDatesKey  = "miscarriage_dates"
	AbortionDatesKey     = "abortion_dates"
)

// Parameter keys read when building the initial population.
const (
	AgePyramidKey          = "age_pyramid"
	FecundityLowKey        = "fecundity_variation_low"
	FecundityHighKey       = "fecundity_variation_high"
	defaultFecundityLow    = 0.7
	defaultFecundityHigh   = 1.1
	pyramidBinWidth        = 5.0
	pyramidFemaleWeightCol = 2
)

// Schema returns the column layout of a family-planning population.
func Schema() people.Schema {
	return people.MustSchema(
		people.Float(people.AgeKey),
		people.Int(people.SexKey),
		people.Bool(people.AliveKey),
		people.Int(MethodKey),
		people.Int(ParityKey),
		people.Bool(PregnantKey),
		people.Bool(SexuallyActiveKey),
		people.Bool(LactatingKey),
		people.Bool(PostpartumKey),
		people.Float(PersonalFecundityKey),
		people.List(DobsKey),
		people.List(StillDatesKey),
		people.List(MiscarriageDatesKey),
		people.List(AbortionDatesKey),
	)
}

// defaultPyramid is the Senegal 1962 population by five-year age bin: bin
// start, male count, female count.
var defaultPyramid = [][3]float64{
	{0, 318225, 314011},
	{5, 249054, 244271},
	{10, 191209, 190998},
	{15, 157800, 159536},
	{20, 141480, 141717},
	{25, 125002, 124293},
	{30, 109339, 107802},
	{35, 93359, 92119},
	{40, 77605, 78231},
	{45, 63650, 66117},
	{50, 51038, 54934},
	{55, 39715, 44202},
	{60, 29401, 33497},
	{65, 19522, 23019},
	{70, 11686, 14167},
	{75, 5985, 7390},
	{80, 2875, 3554},
}

// pyramid returns the age pyramid from p, or the default. A configured
// pyramid is a list of [bin start, male, female] rows.
func pyramid(p *pars.Pars) ([][3]float64, error) {
	raw, err := p.Get(AgePyramidKey)
	if err != nil {
		return defaultPyramid, nil
	}
	rows, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("sim: %s is %T, want a list of rows", AgePyramidKey, raw)
	}
	out := make([][3]float64, 0, len(rows))
	for i, r := range rows {
		cells, ok := r.([]any)
		if !ok || len(cells) != 3 {
			return nil, fmt.Errorf("sim: %s row %d must have 3 numbers", AgePyramidKey, i)
		}
		var row [3]float64
		for j, c := range cells {
			switch v := c.(type) {
			case float64:
				row[j] = v
			case int:
				row[j] = float64(v)
			default:
				return nil, fmt.Errorf("sim: %s row %d cell %d is %T", AgePyramidKey, i, j, c)
			}
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sim: %s is empty", AgePyramidKey)
	}
	return out, nil
}

// floatOr reads key from p, falling back to def when it is absent.
func floatOr(p *pars.Pars, key string, def float64) (float64, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Float(key)
}

// NewPopulation builds n women with ages drawn from the female column of the
// age pyramid and personal fecundity drawn uniformly between the configured
// bounds. Everyone starts alive, not pregnant and with no events.
func NewPopulation(p *pars.Pars, n int, rng *sampling.Engine, opts ...people.Option) (*people.People, error) {
	bins, err := pyramid(p)
	if err != nil {
		return nil, err
	}
	low, err := floatOr(p, FecundityLowKey, defaultFecundityLow)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	high, err := floatOr(p, FecundityHighKey, defaultFecundityHigh)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	if high < low {
		return nil, fmt.Errorf("sim: %s %v exceeds %s %v", FecundityLowKey, low, FecundityHighKey, high)
	}

	cum := make([]float64, len(bins))
	total := 0.0
	for i, b := range bins {
		if b[pyramidFemaleWeightCol] < 0 {
			return nil, fmt.Errorf("sim: %s row %d has a negative count", AgePyramidKey, i)
		}
		total += b[pyramidFemaleWeightCol]
		cum[i] = total
	}
	if total == 0 {
		return nil, fmt.Errorf("sim: %s has no women", AgePyramidKey)
	}

	ages := make([]float64, n)
	fecundity := make([]float64, n)
	for i := range n {
		u := rng.Float64() * total
		bin, _ := slices.BinarySearch(cum, u)
		bin = min(bin, len(bins)-1)
		ages[i] = bins[bin][0] + rng.Float64()*pyramidBinWidth
		fecundity[i] = low + rng.Float64()*(high-low)
	}

	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}

	opts = append([]people.Option{people.WithSampler(rng)}, opts...)
	return people.FromColumns(Schema(), map[string]any{
		people.AgeKey:        ages,
		people.SexKey:        make([]int64, n),
		people.AliveKey:      alive,
		MethodKey:            make([]int64, n),
		ParityKey:            make([]int64, n),
		PregnantKey:          make([]bool, n),
		SexuallyActiveKey:    make([]bool, n),
		LactatingKey:         make([]bool, n),
		PostpartumKey:        make([]bool, n),
		PersonalFecundityKey: fecundity,
		DobsKey:              make([][]float64, n),
		StillDatesKey:        make([][]float64, n),
		MiscarriageDatesKey:  make([][]float64, n),
		AbortionDatesKey:     make([][]float64, n),
	}, opts...)
}
