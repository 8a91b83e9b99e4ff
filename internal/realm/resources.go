// Package realm defines the persistent game-world model: resources,
// settlements, players, the deferred action queue, the research catalog and
// armies. Types here are plain values; persistence and simulation live in
// other packages.
package realm

import (
	"encoding/json"
	"fmt"
)

// Resource identifies one of the settlement resources.
type Resource uint8

const (
	Food Resource = iota
	Wood
	Stone
	Silver
	Gold
)

// NumResources is the size of the closed resource set.
const NumResources = int(Gold) + 1

// AllResources lists every resource in storage order.
var AllResources = [NumResources]Resource{Food, Wood, Stone, Silver, Gold}

var resourceNames = [NumResources]string{"food", "wood", "stone", "silver", "gold"}

func (r Resource) String() string {
	if int(r) < NumResources {
		return resourceNames[r]
	}
	return fmt.Sprintf("resource(%d)", uint8(r))
}

func (r Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseResource maps a resource name to its Resource.
func ParseResource(name string) (Resource, bool) {
	for i, n := range resourceNames {
		if n == name {
			return Resource(i), true
		}
	}
	return 0, false
}

// Amounts holds an integer quantity per resource.
type Amounts [NumResources]int64

// Add returns a + o.
func (a Amounts) Add(o Amounts) Amounts {
	for i := range a {
		a[i] += o[i]
	}
	return a
}

// Sub returns a - o.
func (a Amounts) Sub(o Amounts) Amounts {
	for i := range a {
		a[i] -= o[i]
	}
	return a
}

// Neg returns -a.
func (a Amounts) Neg() Amounts {
	for i := range a {
		a[i] = -a[i]
	}
	return a
}

// DivInt divides every quantity by n (integer division).
func (a Amounts) DivInt(n int64) Amounts {
	for i := range a {
		a[i] /= n
	}
	return a
}

// Covers reports whether a is at least cost for every resource.
func (a Amounts) Covers(cost Amounts) bool {
	for i := range a {
		if a[i] < cost[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether every quantity is zero.
func (a Amounts) IsZero() bool {
	return a == Amounts{}
}

func (a Amounts) MarshalJSON() ([]byte, error) {
	m := make(map[string]int64, NumResources)
	for i, v := range a {
		m[resourceNames[i]] = v
	}
	return json.Marshal(m)
}

func (a *Amounts) UnmarshalJSON(b []byte) error {
	var m map[string]int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*a = Amounts{}
	for name, v := range m {
		r, ok := ParseResource(name)
		if !ok {
			return fmt.Errorf("unknown resource %q", name)
		}
		a[r] = v
	}
	return nil
}

// Rates holds a production rate per resource, in units per hour.
type Rates [NumResources]float64

// Scale multiplies each rate by the matching factor.
func (r Rates) Scale(f Rates) Rates {
	for i := range r {
		r[i] *= f[i]
	}
	return r
}

func (r Rates) MarshalJSON() ([]byte, error) {
	m := make(map[string]float64, NumResources)
	for i, v := range r {
		m[resourceNames[i]] = v
	}
	return json.Marshal(m)
}

func (r *Rates) UnmarshalJSON(b []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*r = Rates{}
	for name, v := range m {
		res, ok := ParseResource(name)
		if !ok {
			return fmt.Errorf("unknown resource %q", name)
		}
		r[res] = v
	}
	return nil
}

// NoLimit marks a resource without a storage capacity.
const NoLimit int64 = -1

// Limits holds a storage capacity per resource. NoLimit means unbounded.
type Limits [NumResources]int64

// Unlimited returns Limits with every resource unbounded.
func Unlimited() Limits {
	var l Limits
	for i := range l {
		l[i] = NoLimit
	}
	return l
}

// Cap returns the capacity for r and whether one is defined.
func (l Limits) Cap(r Resource) (int64, bool) {
	c := l[r]
	return c, c != NoLimit
}

// Clamp bounds a to the defined capacities.
func (l Limits) Clamp(a Amounts) Amounts {
	for i := range a {
		if l[i] != NoLimit && a[i] > l[i] {
			a[i] = l[i]
		}
	}
	return a
}

func (l Limits) MarshalJSON() ([]byte, error) {
	m := make(map[string]*int64, NumResources)
	for i := range l {
		if l[i] == NoLimit {
			m[resourceNames[i]] = nil
			continue
		}
		v := l[i]
		m[resourceNames[i]] = &v
	}
	return json.Marshal(m)
}

func (l *Limits) UnmarshalJSON(b []byte) error {
	var m map[string]*int64
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*l = Unlimited()
	for name, v := range m {
		res, ok := ParseResource(name)
		if !ok {
			return fmt.Errorf("unknown resource %q", name)
		}
		if v != nil {
			l[res] = *v
		}
	}
	return nil
}
