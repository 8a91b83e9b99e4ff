// Package world derives terrain over settlement coordinates from layered
// simplex noise. Terrain gives defenders a bonus in combat.
package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Terrain types for map cells.
type Terrain uint8

const (
	TerrainPlains Terrain = iota
	TerrainForest
	TerrainHills
	TerrainMountain
	TerrainSwamp
)

func (t Terrain) String() string {
	switch t {
	case TerrainPlains:
		return "plains"
	case TerrainForest:
		return "forest"
	case TerrainHills:
		return "hills"
	case TerrainMountain:
		return "mountain"
	case TerrainSwamp:
		return "swamp"
	default:
		return "unknown"
	}
}

// MaxDefenseBonus is the exclusive upper bound of DefenseBonus.
const MaxDefenseBonus = 0.25

// baseDefense is the flat bonus of each terrain; elevation adds the rest.
var baseDefense = map[Terrain]float64{
	TerrainPlains:   0,
	TerrainForest:   0.08,
	TerrainHills:    0.12,
	TerrainMountain: 0.18,
	TerrainSwamp:    0.04,
}

// Cell is the terrain sample at one map position.
type Cell struct {
	X         int     `json:"x"`
	Y         int     `json:"y"`
	Terrain   Terrain `json:"terrain"`
	Elevation float64 `json:"elevation"`
	Rainfall  float64 `json:"rainfall"`
}

// Field samples terrain deterministically from a seed. It is safe for
// concurrent use.
type Field struct {
	seed int64
	elev opensimplex.Noise
	rain opensimplex.Noise
}

// NewField creates a terrain field. The same seed always yields the same map.
func NewField(seed int64) *Field {
	return &Field{
		seed: seed,
		elev: opensimplex.NewNormalized(seed),
		rain: opensimplex.NewNormalized(seed + 1),
	}
}

// Seed returns the field's seed.
func (f *Field) Seed() int64 { return f.seed }

// At samples the cell at (x, y).
func (f *Field) At(x, y int) Cell {
	fx, fy := float64(x), float64(y)
	elev := octaveNoise(f.elev, fx, fy, 4, 0.08, 0.5)
	rain := octaveNoise(f.rain, fx, fy, 3, 0.06, 0.5)
	return Cell{
		X:         x,
		Y:         y,
		Terrain:   deriveTerrain(elev, rain),
		Elevation: elev,
		Rainfall:  rain,
	}
}

// DefenseBonus returns the defender multiplier bonus at (x, y), in
// [0, MaxDefenseBonus).
func (f *Field) DefenseBonus(x, y int) float64 {
	c := f.At(x, y)
	b := baseDefense[c.Terrain] + 0.06*c.Elevation
	return math.Min(math.Max(b, 0), math.Nextafter(MaxDefenseBonus, 0))
}

func deriveTerrain(elev, rain float64) Terrain {
	switch {
	case elev > 0.72:
		return TerrainMountain
	case elev > 0.58:
		return TerrainHills
	case rain > 0.7 && elev < 0.4:
		return TerrainSwamp
	case rain > 0.5:
		return TerrainForest
	default:
		return TerrainPlains
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
