package numerics

import "math"

func nan() float64 { return math.NaN() }

// Lerp linearly interpolates (or extrapolates) y(x) given sorted
// x points. Outside the range the nearest segment is extended.
func Lerp(xPoints, yPoints []float64, x float64) float64 {
	n := len(xPoints)
	if n == 1 {
		return yPoints[0]
	}

	var i0, i1 int
	switch {
	case x <= xPoints[0]:
		i0, i1 = 0, 1
	case x >= xPoints[n-1]:
		i0, i1 = n-2, n-1
	default:
		i := 0
		for i < n-1 && xPoints[i+1] < x {
			i++
		}
		i0, i1 = i, i+1
	}

	x0, x1 := xPoints[i0], xPoints[i1]
	y0, y1 := yPoints[i0], yPoints[i1]

	if x0 == x1 {
		return y0
	}

	return y0 + (x-x0)*(y1-y0)/(x1-x0)
}

// QuadraticPlus returns the larger root of ax^2+bx+c, NaN when the
// discriminant is negative, and the linear solution when a is zero.
func QuadraticPlus(a, b, c float64) float64 {
	d := b*b - 4*a*c
	switch {
	case d < 0:
		return math.NaN()
	case a == 0:
		return -c / b
	default:
		return (-b + math.Sqrt(d)) / (2 * a)
	}
}

// QuadraticMinus returns the smaller root of ax^2+bx+c.
func QuadraticMinus(a, b, c float64) float64 {
	d := b*b - 4*a*c
	switch {
	case d < 0:
		return math.NaN()
	case a == 0:
		return -c / b
	default:
		return (-b - math.Sqrt(d)) / (2 * a)
	}
}
