package ellipse

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Method selects the conic fitting algorithm.
type Method int

const (
	// Direct is the Fitzgibbon direct least squares fit, constrained to
	// always return an ellipse.
	Direct Method = iota

	// AMS is Taubin's approximate mean square fit.
	AMS

	// Simple is a plain algebraic least squares conic fit with a unit-norm
	// coefficient vector.
	Simple
)

// MinPoints is the smallest point set any method accepts. Five points
// determine a conic.
const MinPoints = 5

func (m Method) String() string {
	switch m {
	case Direct:
		return "Direct"
	case AMS:
		return "AMS"
	case Simple:
		return "Simple"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod parses a method name, ignoring case.
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "direct", "":
		return Direct, nil
	case "ams":
		return AMS, nil
	case "simple":
		return Simple, nil
	default:
		return Direct, fmt.Errorf("unknown ellipse fitting method %q", name)
	}
}

// conic holds the coefficients of A x² + B xy + C y² + D x + E y + F = 0.
type conic [6]float64

// Fit fits an ellipse to points with the given method.
//
// The points are centered on their mean and scaled to unit RMS radius before
// fitting, and the result is mapped back to pixel space.
func Fit(points []Point, method Method) (Box, error) {
	if len(points) < MinPoints {
		return Box{}, &InsufficientPointsError{Got: len(points), Need: MinPoints}
	}

	normalized, origin, scale := normalize(points)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return Box{}, &DegenerateGeometryError{Method: method, Reason: "all points coincide"}
	}
	if collinear(normalized) {
		return Box{}, &DegenerateGeometryError{Method: method, Reason: "points are collinear"}
	}

	var (
		c   conic
		err error
	)
	switch method {
	case Direct:
		c, err = fitDirect(normalized)
	case AMS:
		c, err = fitAMS(normalized)
	case Simple:
		c, err = fitSimple(normalized)
	default:
		return Box{}, fmt.Errorf("unsupported ellipse fitting method %v", method)
	}
	if err != nil {
		return Box{}, &DegenerateGeometryError{Method: method, Reason: err.Error()}
	}

	box, err := c.box()
	if err != nil {
		return Box{}, &DegenerateGeometryError{Method: method, Reason: err.Error()}
	}

	box.Center.X = box.Center.X*scale + origin.X
	box.Center.Y = box.Center.Y*scale + origin.Y
	box.Width *= scale
	box.Height *= scale

	for _, v := range []float64{box.Center.X, box.Center.Y, box.Width, box.Height, box.AngleDeg} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, &DegenerateGeometryError{Method: method, Reason: "fit produced non-finite parameters"}
		}
	}

	return box, nil
}

// normalize centers points on their mean and scales them to unit RMS radius.
func normalize(points []Point) ([]Point, Point, float64) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	origin := Point{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil)}

	var sq float64
	for i := range points {
		dx, dy := xs[i]-origin.X, ys[i]-origin.Y
		sq += dx*dx + dy*dy
	}
	scale := math.Sqrt(sq / float64(len(points)))
	if scale == 0 {
		return nil, origin, 0
	}

	normalized := make([]Point, len(points))
	for i := range points {
		normalized[i] = Point{X: (xs[i] - origin.X) / scale, Y: (ys[i] - origin.Y) / scale}
	}
	return normalized, origin, scale
}

// collinear reports whether normalised points lie on a single line, using the
// smaller eigenvalue of their 2×2 covariance.
func collinear(points []Point) bool {
	var sxx, syy, sxy float64
	for _, p := range points {
		sxx += p.X * p.X
		syy += p.Y * p.Y
		sxy += p.X * p.Y
	}
	n := float64(len(points))
	sxx, syy, sxy = sxx/n, syy/n, sxy/n
	minor := (sxx + syy - math.Hypot(sxx-syy, 2*sxy)) / 2
	return minor < 1e-10
}

// fitDirect implements the numerically stable form of the direct ellipse fit
// (Halir and Flusser), splitting the design matrix into its quadratic and
// linear parts.
func fitDirect(points []Point) (conic, error) {
	n := len(points)
	d1 := mat.NewDense(n, 3, nil)
	d2 := mat.NewDense(n, 3, nil)
	for i, p := range points {
		d1.Set(i, 0, p.X*p.X)
		d1.Set(i, 1, p.X*p.Y)
		d1.Set(i, 2, p.Y*p.Y)
		d2.Set(i, 0, p.X)
		d2.Set(i, 1, p.Y)
		d2.Set(i, 2, 1)
	}

	var s1, s2, s3 mat.Dense
	s1.Mul(d1.T(), d1)
	s2.Mul(d1.T(), d2)
	s3.Mul(d2.T(), d2)

	// t = S3⁻¹ S2ᵀ, so the linear part is a2 = −t a1.
	var t mat.Dense
	if err := t.Solve(&s3, s2.T()); err != nil {
		return conic{}, fmt.Errorf("linear scatter matrix is singular: %v", err)
	}

	var st, m mat.Dense
	st.Mul(&s2, &t)
	m.Sub(&s1, &st)

	// Premultiply by the inverse of the constraint matrix
	// [[0 0 2] [0 −1 0] [2 0 0]].
	reduced := mat.NewDense(3, 3, nil)
	for j := 0; j < 3; j++ {
		reduced.Set(0, j, m.At(2, j)/2)
		reduced.Set(1, j, -m.At(1, j))
		reduced.Set(2, j, m.At(0, j)/2)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(reduced, mat.EigenRight); !ok {
		return conic{}, fmt.Errorf("eigen decomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.CDense
	eig.VectorsTo(&vectors)

	found := false
	a1 := mat.NewVecDense(3, nil)
	for k := range values {
		if math.Abs(imag(values[k])) > 1e-9*(1+math.Abs(real(values[k]))) {
			continue
		}
		v0, v1, v2 := real(vectors.At(0, k)), real(vectors.At(1, k)), real(vectors.At(2, k))
		if 4*v0*v2-v1*v1 > 0 {
			a1.SetVec(0, v0)
			a1.SetVec(1, v1)
			a1.SetVec(2, v2)
			found = true
			break
		}
	}
	if !found {
		return conic{}, fmt.Errorf("no elliptical solution")
	}

	var a2 mat.VecDense
	a2.MulVec(&t, a1)

	return conic{a1.AtVec(0), a1.AtVec(1), a1.AtVec(2), -a2.AtVec(0), -a2.AtVec(1), -a2.AtVec(2)}, nil
}

// fitAMS implements Taubin's fit. The constant term is eliminated by
// centering the quadratic and linear monomials, which leaves the generalized
// eigenproblem M θ = λ N θ over five coefficients, with N the mean gradient
// scatter. N is positive definite for any non-degenerate set, so the problem
// is reduced to a symmetric one through its Cholesky factor.
func fitAMS(points []Point) (conic, error) {
	n := float64(len(points))

	var mean [5]float64
	rows := make([][5]float64, len(points))
	for i, p := range points {
		rows[i] = [5]float64{p.X * p.X, p.X * p.Y, p.Y * p.Y, p.X, p.Y}
		for j := range mean {
			mean[j] += rows[i][j] / n
		}
	}

	scatter := mat.NewSymDense(5, nil)
	gradient := mat.NewSymDense(5, nil)
	for i, p := range points {
		var z [5]float64
		for j := range z {
			z[j] = rows[i][j] - mean[j]
		}
		gx := [5]float64{2 * p.X, p.Y, 0, 1, 0}
		gy := [5]float64{0, p.X, 2 * p.Y, 0, 1}
		for r := 0; r < 5; r++ {
			for c := r; c < 5; c++ {
				scatter.SetSym(r, c, scatter.At(r, c)+z[r]*z[c]/n)
				gradient.SetSym(r, c, gradient.At(r, c)+(gx[r]*gx[c]+gy[r]*gy[c])/n)
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(gradient); !ok {
		return conic{}, fmt.Errorf("gradient matrix is not positive definite")
	}
	var l, li mat.TriDense
	chol.LTo(&l)
	if err := li.InverseTri(&l); err != nil {
		return conic{}, fmt.Errorf("gradient factor is singular: %v", err)
	}

	var tmp, k mat.Dense
	tmp.Mul(&li, scatter)
	k.Mul(&tmp, li.T())
	sym := mat.NewSymDense(5, nil)
	for r := 0; r < 5; r++ {
		for c := r; c < 5; c++ {
			sym.SetSym(r, c, (k.At(r, c)+k.At(c, r))/2)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return conic{}, fmt.Errorf("eigen decomposition failed")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	var theta mat.VecDense
	theta.MulVec(li.T(), vectors.ColView(0))

	var c conic
	for j := 0; j < 5; j++ {
		c[j] = theta.AtVec(j)
		c[5] -= theta.AtVec(j) * mean[j]
	}
	return c, nil
}

// fitSimple minimises the algebraic distance subject to a unit-norm
// coefficient vector: the eigenvector of the smallest eigenvalue of DᵀD.
func fitSimple(points []Point) (conic, error) {
	design := mat.NewDense(len(points), 6, nil)
	for i, p := range points {
		design.SetRow(i, []float64{p.X * p.X, p.X * p.Y, p.Y * p.Y, p.X, p.Y, 1})
	}

	scatter := mat.NewSymDense(6, nil)
	scatter.SymOuterK(1, design.T())

	var eig mat.EigenSym
	if ok := eig.Factorize(scatter, true); !ok {
		return conic{}, fmt.Errorf("eigen decomposition failed")
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	var c conic
	for j := range c {
		c[j] = vectors.At(j, 0)
	}
	return c, nil
}

// box converts conic coefficients to a rotated box.
func (c conic) box() (Box, error) {
	if c[0]+c[2] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}
	a, b, cc, d, e, f := c[0], c[1], c[2], c[3], c[4], c[5]

	disc := b*b - 4*a*cc
	if !(disc < 0) {
		return Box{}, fmt.Errorf("conic is not an ellipse (discriminant %g)", disc)
	}

	x0 := (2*cc*d - b*e) / disc
	y0 := (2*a*e - b*d) / disc
	f0 := f + (d*x0+e*y0)/2
	if !(f0 < 0) {
		return Box{}, fmt.Errorf("conic has no real points")
	}

	r := math.Hypot(a-cc, b)
	lambdaW := (a + cc + r) / 2
	lambdaH := (a + cc - r) / 2
	if !(lambdaH > 0) {
		return Box{}, fmt.Errorf("quadratic form is not positive definite")
	}

	phi := 0.5 * math.Atan2(b, a-cc)

	return Box{
		Center:   Point{X: x0, Y: y0},
		Width:    2 * math.Sqrt(-f0/lambdaW),
		Height:   2 * math.Sqrt(-f0/lambdaH),
		AngleDeg: -phi * 180 / math.Pi,
	}, nil
}
