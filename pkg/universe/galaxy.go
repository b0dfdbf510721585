package universe

import (
	"math"
	"math/rand"

	"github.com/nbodybench/gravitation/pkg/mass"
)

// GalaxyConfig parameterizes the randomized initial configuration: one
// central black hole plus a disk-and-cloud of stars in circular
// Keplerian orbit around it. Orientation/position/velocity default to
// the origin and identity rotation, which is the only case the worker
// protocol's `from_galaxy(length)` call exercises; the fields exist so
// multiple galaxies could in principle be composed into one universe.
type GalaxyConfig struct {
	Length int

	Radius  float64 // characteristic radius, metres (unscaled)
	MassHole float64 // black hole mass, kg (unscaled)
	MassStar float64 // catalogue mean star mass, kg (unscaled)

	// Orientation and bulk motion of this galaxy within the universe.
	GAlpha float64    // rotation about Z, radians
	GBeta  float64    // rotation about X, radians
	R      mass.Vec3  // galaxy centre
	V      mass.Vec3  // galaxy bulk velocity

	Rand *rand.Rand
}

// DefaultGalaxyConfig returns the parameters the reference benchmark
// uses: a single galaxy at the origin, at rest, with no tilt.
func DefaultGalaxyConfig(length int) GalaxyConfig {
	return GalaxyConfig{
		Length:   length,
		Radius:   1.0,
		MassHole: 1.0e6,
		MassStar: 1.0,
	}
}

// FromGalaxy constructs a Universe of Length masses: one black hole at
// the galaxy centre named "back hole" (sic — preserved for snapshot
// compatibility with historical archives), 80% disk stars, 20% cloud
// stars, each on a circular Keplerian orbit, then shuffles mass order
// so no kernel can rely on index locality reflecting anything
// physical.
func FromGalaxy(cfg GalaxyConfig, uc Config) (*Universe, error) {
	u, err := New(uc)
	if err != nil {
		return nil, err
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	if err := u.CreateMass("back hole", mass.Vec3{}, mass.Vec3{}, cfg.MassHole, false); err != nil {
		return nil, err
	}

	diskCount := (cfg.Length - 1) * 4 / 5
	for n := 0; n < cfg.Length-1; n++ {
		alpha := rng.Float64() * 2 * math.Pi

		var rs mass.Vec3
		var name string
		if n < diskCount {
			name = "disk star"
			outer := 4.5 + 0.1
			rAbs := (rng.Float64()*4.5 + 0.1) * cfg.Radius
			z := (0.5*rng.Float64() - 0.25) * cfg.Radius * (outer*cfg.Radius - rAbs) / (outer * cfg.Radius)
			rs = mass.Vec3{rAbs * math.Cos(alpha), rAbs * math.Sin(alpha), z}
		} else {
			name = "cloud star"
			rAbs := (rng.Float64()*0.75 + 0.1) * cfg.Radius
			beta := math.Pi * (rng.Float64() - 0.5)
			rs = mass.Vec3{
				rAbs * math.Cos(alpha) * math.Cos(beta),
				rAbs * math.Sin(alpha) * math.Cos(beta),
				rAbs * math.Sin(beta),
			}
		}

		dist := math.Sqrt(rs[0]*rs[0] + rs[1]*rs[1] + rs[2]*rs[2])
		vAbsCircular := math.Sqrt(gravitationalConstant() * cfg.MassHole / dist)
		vAlpha := alpha - math.Pi/2
		vs := mass.Vec3{vAbsCircular * math.Cos(vAlpha), vAbsCircular * math.Sin(vAlpha), 0.0}

		rs = rotateXZ(rs, cfg.GBeta, cfg.GAlpha).Add(cfg.R)
		vs = rotateXZ(vs, cfg.GBeta, cfg.GAlpha).Add(cfg.V)

		mStar := cfg.MassStar * math.Pow(10, rng.NormFloat64())

		if err := u.CreateMass(name, rs, vs, mStar, false); err != nil {
			return nil, err
		}
	}

	u.Shuffle(rng)
	return u, nil
}

// gravitationalConstant is the unscaled Newtonian constant used only
// by the galaxy initializer's orbital-speed formula, which (per the
// original) computes v_abs from the UNSCALED G and M_hole, since the
// initializer runs before the universe's own pre-scaled G is
// meaningful for this purpose. Kept as a named constant rather than a
// magic number inline.
func gravitationalConstant() float64 { return 6.674e-11 }

// rotateXZ rotates v by beta about the X axis, then by alpha about the
// Z axis. With beta == alpha == 0 (the single-galaxy default) this is
// the identity, matching the only configuration spec.md's external
// interface exercises.
func rotateXZ(v mass.Vec3, beta, alpha float64) mass.Vec3 {
	// Rotate about X: (y,z) -> (y cos b - z sin b, y sin b + z cos b)
	y := v[1]*math.Cos(beta) - v[2]*math.Sin(beta)
	z := v[1]*math.Sin(beta) + v[2]*math.Cos(beta)
	x := v[0]

	// Rotate about Z: (x,y) -> (x cos a - y sin a, x sin a + y cos a)
	x2 := x*math.Cos(alpha) - y*math.Sin(alpha)
	y2 := x*math.Sin(alpha) + y*math.Cos(alpha)

	return mass.Vec3{x2, y2, z}
}
