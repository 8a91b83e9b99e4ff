package world

import "sort"

// Pos is an occupied map position.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// MinSiteDistance is the minimum Chebyshev distance between settlements.
const MinSiteDistance = 2

// FindSite picks a free position within radius of origin for a new
// settlement, at least MinSiteDistance from every taken position. It prefers
// defensible terrain, then closeness to origin. ok is false when the area is
// full.
func (f *Field) FindSite(origin Pos, radius int, taken []Pos) (site Pos, ok bool) {
	type scored struct {
		pos   Pos
		score float64
		dist  int
	}
	var candidates []scored

	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			p := Pos{X: origin.X + dx, Y: origin.Y + dy}
			if tooClose(p, taken, MinSiteDistance) {
				continue
			}
			candidates = append(candidates, scored{
				pos:   p,
				score: f.DefenseBonus(p.X, p.Y),
				dist:  max(abs(dx), abs(dy)),
			})
		}
	}
	if len(candidates) == 0 {
		return Pos{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.pos.X != b.pos.X {
			return a.pos.X < b.pos.X
		}
		return a.pos.Y < b.pos.Y
	})
	return candidates[0].pos, true
}

// tooClose checks if p is within minDist of any taken position.
func tooClose(p Pos, taken []Pos, minDist int) bool {
	for _, t := range taken {
		if max(abs(p.X-t.X), abs(p.Y-t.Y)) < minDist {
			return true
		}
	}
	return false
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
