package universe

import (
	"math"
	"math/rand"
	"testing"

	"github.com/nbodybench/gravitation/pkg/platform"
	"github.com/nbodybench/gravitation/pkg/variation"
)

// TestFromGalaxyCircularVelocityMatchesKeplerianFormula pins down
// spec §4.1's v_abs = sqrt(G*m_hole / sqrt(Σrᵢ²)): for every star,
// |v|² * dist must equal G*m_hole (within floating-point tolerance),
// which only holds when v_abs is sqrt(G*m_hole / dist), not
// sqrt(G*m_hole / sqrt(dist)).
func TestFromGalaxyCircularVelocityMatchesKeplerianFormula(t *testing.T) {
	cfg := DefaultGalaxyConfig(64)
	cfg.Rand = rand.New(rand.NewSource(7))

	uc := Config{
		T:         0.1,
		G:         1.0,
		ScaleM:    1.0,
		ScaleR:    1.0,
		Variation: variation.Variation{Dtype: variation.Float64, Target: variation.CPU, Threads: variation.ThreadsSingle},
		Platform:  platform.Platform{},
		Hooks:     noopHooks{},
	}

	u, err := FromGalaxy(cfg, uc)
	if err != nil {
		t.Fatalf("FromGalaxy: %v", err)
	}

	const wantG = 6.674e-11
	var checked int
	for _, m := range u.Masses() {
		if m.Name == "back hole" {
			continue
		}
		dist := math.Sqrt(m.R[0]*m.R[0] + m.R[1]*m.R[1] + m.R[2]*m.R[2])
		speedSq := m.V[0]*m.V[0] + m.V[1]*m.V[1] + m.V[2]*m.V[2]
		got := speedSq * dist
		want := wantG * cfg.MassHole
		if math.Abs(got-want) > 1e-12*math.Abs(want) {
			t.Fatalf("mass %q: |v|^2*dist = %v, want %v (dist=%v, |v|^2=%v)", m.Name, got, want, dist, speedSq)
		}
		checked++
	}
	if checked == 0 {
		t.Fatal("expected at least one non-hole mass to check")
	}
}
