// Package mass defines the point-mass primitive shared by every universe.
package mass

import (
	"fmt"
	"math"
)

// Dims is the number of spatial dimensions a Mass carries. The universe
// model is fixed at three dimensions; it is not a configurable axis.
const Dims = 3

// Vec3 is a plain three-component vector. Kept as a named array rather
// than a struct so zero values, copies and component loops stay simple.
type Vec3 [Dims]float64

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Finite reports whether every component of v is neither NaN nor Inf.
func (v Vec3) Finite() bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Mass is a single point mass: name, position, velocity, acceleration
// accumulator, and mass scalar. Positions, velocities and mass are
// stored already scaled (see universe.Universe.CreateMass); the accumulator a
// is cleared at the end of every completed iteration.
type Mass struct {
	Name string
	R    Vec3
	V    Vec3
	A    Vec3
	M    float64
}

// New constructs a Mass with a zeroed acceleration accumulator.
func New(name string, r, v Vec3, m float64) *Mass {
	return &Mass{Name: name, R: r, V: v, M: m}
}

// AssertFinite reports an error describing the first non-finite
// component found, or nil if r, v, a and m are all finite. Mirrors the
// original's assert_not_isnan, called once per completed iteration.
func (m *Mass) AssertFinite() error {
	if !m.R.Finite() {
		return fmt.Errorf("mass %q: non-finite position %v", m.Name, m.R)
	}
	if !m.V.Finite() {
		return fmt.Errorf("mass %q: non-finite velocity %v", m.Name, m.V)
	}
	if !m.A.Finite() {
		return fmt.Errorf("mass %q: non-finite acceleration %v", m.Name, m.A)
	}
	if math.IsNaN(m.M) || math.IsInf(m.M, 0) {
		return fmt.Errorf("mass %q: non-finite mass %v", m.Name, m.M)
	}
	return nil
}

// Move performs the stage-2 forward-Euler half-kick/drift: velocity is
// advanced by the current acceleration, position is advanced by the
// resulting velocity, and the acceleration accumulator is cleared. The
// order matters: v uses the OLD a, r uses the NEW v.
func (m *Mass) Move(t float64) {
	m.V = m.V.Add(m.A.Scale(t))
	m.R = m.R.Add(m.V.Scale(t))
	m.A = Vec3{}
}
