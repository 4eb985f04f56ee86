package ellipse

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allMethods = []Method{Direct, AMS, Simple}

// angleDiff returns the distance between two axis directions in degrees,
// treating θ and θ+180 as the same axis.
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 180)
	return math.Min(d, 180-d)
}

func noisy(points []Point, sigma float64, seed int64) []Point {
	rng := rand.New(rand.NewSource(seed))
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{X: p.X + rng.NormFloat64()*sigma, Y: p.Y + rng.NormFloat64()*sigma}
	}
	return out
}

func TestFitRecoversExactEllipse(t *testing.T) {
	cases := []Ellipse{
		{Center: Point{X: 160, Y: 108}, SemiMajor: 60, SemiMinor: 40, AngleRawDeg: 30},
		{Center: Point{X: 400, Y: 270}, SemiMajor: 150, SemiMinor: 120, AngleRawDeg: 0},
		{Center: Point{X: 50.5, Y: 70.25}, SemiMajor: 30, SemiMinor: 10, AngleRawDeg: 135},
		{Center: Point{X: 0, Y: 0}, SemiMajor: 5, SemiMinor: 2, AngleRawDeg: 89},
	}

	for _, method := range allMethods {
		for _, want := range cases {
			t.Run(method.String()+"/"+want.String(), func(t *testing.T) {
				box, err := Fit(want.Sample(64), method)
				require.NoError(t, err)

				got := box.Ellipse()
				assert.InDelta(t, want.Center.X, got.Center.X, 1e-6)
				assert.InDelta(t, want.Center.Y, got.Center.Y, 1e-6)
				assert.InDelta(t, want.SemiMajor, got.SemiMajor, 1e-6)
				assert.InDelta(t, want.SemiMinor, got.SemiMinor, 1e-6)
				assert.Less(t, angleDiff(want.AngleRawDeg, got.AngleRawDeg), 1e-6)
			})
		}
	}
}

func TestFitNoisyEllipse(t *testing.T) {
	want := Ellipse{Center: Point{X: 210, Y: 140}, SemiMajor: 90, SemiMinor: 65, AngleRawDeg: 62}
	points := noisy(want.Sample(720), 0.4, 7)

	for _, method := range allMethods {
		t.Run(method.String(), func(t *testing.T) {
			box, err := Fit(points, method)
			require.NoError(t, err)

			got := box.Ellipse()
			assert.InDelta(t, want.Center.X, got.Center.X, 1)
			assert.InDelta(t, want.Center.Y, got.Center.Y, 1)
			assert.InEpsilon(t, want.SemiMajor, got.SemiMajor, 0.02)
			assert.InEpsilon(t, want.SemiMinor, got.SemiMinor, 0.02)
			assert.Less(t, angleDiff(want.AngleRawDeg, got.AngleRawDeg), 1.0)
		})
	}
}

func TestFitCircle(t *testing.T) {
	circle := Ellipse{Center: Point{X: 32, Y: 48}, SemiMajor: 20, SemiMinor: 20}

	for _, method := range allMethods {
		box, err := Fit(circle.Sample(40), method)
		require.NoError(t, err, method.String())
		assert.InDelta(t, 40, box.Width, 1e-6)
		assert.InDelta(t, 40, box.Height, 1e-6)
		assert.InDelta(t, 32, box.Center.X, 1e-6)
		assert.InDelta(t, 48, box.Center.Y, 1e-6)
	}
}

func TestFitFivePoints(t *testing.T) {
	want := Ellipse{Center: Point{X: 10, Y: 20}, SemiMajor: 8, SemiMinor: 3, AngleRawDeg: 20}

	for _, method := range allMethods {
		box, err := Fit(want.Sample(5), method)
		require.NoError(t, err, method.String())
		got := box.Ellipse()
		assert.InDelta(t, want.SemiMajor, got.SemiMajor, 1e-6, method.String())
		assert.InDelta(t, want.SemiMinor, got.SemiMinor, 1e-6, method.String())
	}
}

func TestFitInsufficientPoints(t *testing.T) {
	points := []Point{{X: 0, Y: 0}, {X: 1, Y: 2}, {X: 3, Y: 1}, {X: 2, Y: 5}}

	for _, method := range allMethods {
		_, err := Fit(points, method)
		require.Error(t, err)

		var insufficient *InsufficientPointsError
		require.True(t, errors.As(err, &insufficient), "expected InsufficientPointsError, got %T", err)
		assert.Equal(t, 4, insufficient.Got)
		assert.Equal(t, MinPoints, insufficient.Need)
	}

	_, err := Fit(nil, Direct)
	var insufficient *InsufficientPointsError
	assert.True(t, errors.As(err, &insufficient))
}

func TestFitDegenerateGeometry(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
	}{
		{
			name:   "collinear",
			points: []Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}, {X: 4, Y: 4}, {X: 5, Y: 5}},
		},
		{
			name:   "horizontal line",
			points: []Point{{X: 0, Y: 3}, {X: 1, Y: 3}, {X: 2, Y: 3}, {X: 3, Y: 3}, {X: 4, Y: 3}, {X: 5, Y: 3}},
		},
		{
			name:   "coincident",
			points: []Point{{X: 7, Y: 7}, {X: 7, Y: 7}, {X: 7, Y: 7}, {X: 7, Y: 7}, {X: 7, Y: 7}},
		},
	}

	for _, tt := range tests {
		for _, method := range allMethods {
			t.Run(tt.name+"/"+method.String(), func(t *testing.T) {
				_, err := Fit(tt.points, method)
				require.Error(t, err)

				var degenerate *DegenerateGeometryError
				assert.True(t, errors.As(err, &degenerate), "expected DegenerateGeometryError, got %T: %v", err, err)
			})
		}
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in      string
		want    Method
		wantErr bool
	}{
		{"Direct", Direct, false},
		{"direct", Direct, false},
		{"", Direct, false},
		{"AMS", AMS, false},
		{" ams ", AMS, false},
		{"Simple", Simple, false},
		{"ransac", Direct, true},
	}

	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
