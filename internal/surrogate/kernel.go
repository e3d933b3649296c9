package surrogate

import (
	"fmt"
	"math"
	"strings"
)

// Kernel selects the covariance function. The set is closed.
type Kernel int

const (
	// KernelRBF is the squared-exponential kernel
	KernelRBF Kernel = iota
	// KernelMatern52 is the Matern kernel with smoothness 5/2
	KernelMatern52
)

// ParseKernel maps a configured kernel name to a Kernel
func ParseKernel(name string) (Kernel, error) {
	switch strings.ToLower(name) {
	case "", "rbf":
		return KernelRBF, nil
	case "matern52":
		return KernelMatern52, nil
	default:
		return 0, fmt.Errorf("unknown kernel %q", name)
	}
}

func (k Kernel) String() string {
	switch k {
	case KernelMatern52:
		return "matern52"
	default:
		return "rbf"
	}
}

// eval returns the unit-variance covariance at distance r
func (k Kernel) eval(r, lengthscale float64) float64 {
	switch k {
	case KernelMatern52:
		s := math.Sqrt(5) * r / lengthscale
		return (1 + s + s*s/3) * math.Exp(-s)
	default:
		return math.Exp(-r * r / (2 * lengthscale * lengthscale))
	}
}

func distance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// DefaultLengthscales is the log-spaced grid searched during fitting, in unit-cube units
func DefaultLengthscales() []float64 {
	const (
		lo = 0.05
		hi = 2.0
		n  = 12
	)
	out := make([]float64, n)
	ratio := math.Pow(hi/lo, 1/float64(n-1))
	v := lo
	for i := range out {
		out[i] = v
		v *= ratio
	}
	return out
}
