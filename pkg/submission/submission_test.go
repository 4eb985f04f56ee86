package submission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fetalhc/pkg/config"
	"fetalhc/pkg/ellipse"
	"fetalhc/pkg/mask"
	"fetalhc/pkg/table"
)

var predicted = ellipse.Ellipse{
	Center:      ellipse.Point{X: 400, Y: 270},
	SemiMajor:   180,
	SemiMinor:   120,
	AngleRawDeg: 20,
}

func testMeta(names ...string) *table.Table {
	meta := table.New(table.ColFilename, table.ColPixelSize)
	for _, name := range names {
		meta.Rows = append(meta.Rows, []string{name, "0.2"})
	}
	return meta
}

// halfResolution shrinks a normalized mask with nearest neighbour sampling.
func halfResolution(m *mask.Mask) *mask.Mask {
	small := imaging.Resize(m.Image(), m.Width/2, m.Height/2, imaging.NearestNeighbor)
	return mask.FromImage(small).Normalized()
}

func TestHalfResolutionScalesFactor(t *testing.T) {
	full := mask.Rasterize(predicted, 800, 540)
	half := halfResolution(full)
	require.Equal(t, 400, half.Width)
	require.Equal(t, 270, half.Height)

	g := NewGenerator(&Params{})
	out, records, err := g.Generate(testMeta("000_HC.png", "001_HC.png"), []*mask.Mask{full, half})
	require.NoError(t, err)
	require.Len(t, records, 2)

	fullRec, halfRec := records[0], records[1]

	// Full resolution uses the pixel size as recorded.
	assert.InDelta(t, 0.2*fullRec.Pixel.CenterX, fullRec.Physical.CenterX, 1e-9)

	naive := 0.2 * halfRec.Pixel.CenterX
	assert.InDelta(t, 2*naive, halfRec.Physical.CenterX, 1e-9)

	// Both resolutions describe the same head.
	assert.InDelta(t, fullRec.Physical.CenterX, halfRec.Physical.CenterX, 0.5)
	assert.InDelta(t, fullRec.Physical.SemiAxisA, halfRec.Physical.SemiAxisA, 0.5)
	assert.InDelta(t, 0.2*180, fullRec.Physical.SemiAxisA, 0.2*180*0.02)

	cx, err := out.Float(1, "center_x_mm")
	require.NoError(t, err)
	assert.Equal(t, halfRec.Physical.CenterX, cx)
}

func TestGenerateOutputColumns(t *testing.T) {
	g := NewGenerator(&Params{})
	out, _, err := g.Generate(testMeta("000_HC.png"), []*mask.Mask{mask.Rasterize(predicted, 800, 540)})
	require.NoError(t, err)

	assert.Equal(t, []string{
		table.ColFilename, "center_x_mm", "center_y_mm", "semi_axes_a_mm", "semi_axes_b_mm", "angle_rad",
	}, out.Columns)
	assert.Equal(t, 1, out.Len())
}

func TestShapeMismatch(t *testing.T) {
	g := NewGenerator(&Params{})
	_, _, err := g.Generate(testMeta("000_HC.png"), []*mask.Mask{mask.Rasterize(predicted, 800, 500)})
	require.Error(t, err)

	var serr *ShapeMismatchError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "000_HC.png", serr.Filename)
	assert.Equal(t, 500, serr.Height)
	assert.Equal(t, 800, serr.Width)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, CheckShape("a", 540, 800, 540, 800))
	assert.NoError(t, CheckShape("a", 270, 400, 540, 800))
	assert.NoError(t, CheckShape("a", 216, 320, 540, 800))
	assert.Error(t, CheckShape("a", 256, 256, 540, 800))
	assert.Error(t, CheckShape("a", 0, 0, 540, 800))

	// The reference comes from configuration.
	assert.NoError(t, CheckShape("a", 256, 256, 1, 1))
}

func TestGenerateRejectsMisalignedInput(t *testing.T) {
	g := NewGenerator(&Params{})
	_, _, err := g.Generate(testMeta("a.png", "b.png"), []*mask.Mask{mask.New(800, 540)})
	assert.Error(t, err)
}

func TestGenerateRejectsRawMasks(t *testing.T) {
	raw := mask.Rasterize(predicted, 800, 540)
	for i := range raw.Pix {
		raw.Pix[i] *= 255
	}

	g := NewGenerator(&Params{})
	_, _, err := g.Generate(testMeta("a.png"), []*mask.Mask{raw})
	assert.True(t, errors.Is(err, mask.ErrNotNormalized))
}

func TestProcessWritesSubmission(t *testing.T) {
	dir := t.TempDir()
	maskDir := filepath.Join(dir, "unet_focal")

	full := mask.Rasterize(predicted, 800, 540)
	require.NoError(t, full.Save(MaskPath(maskDir, "000_HC.png", "_Mask")))
	require.NoError(t, halfResolution(full).Save(MaskPath(maskDir, "001_HC.png", "_Mask")))

	metaPath := filepath.Join(dir, "test_set_pixel_size.csv")
	require.NoError(t, testMeta("000_HC.png", "001_HC.png").Write(metaPath))

	cfg := config.DefaultConfig()
	cfg.Submission.MetadataFile = metaPath
	cfg.Submission.MaskDir = maskDir
	cfg.Submission.OutputDir = filepath.Join(dir, "submission")

	params, err := ParamsFromConfig(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "submission", "unet_focal.csv"), params.OutputFile)

	require.NoError(t, NewGenerator(params).Process(context.Background()))

	out, err := table.Read(params.OutputFile)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.False(t, out.Has(table.ColPixelSize))

	a0, err := out.Float(0, "semi_axes_a_mm")
	require.NoError(t, err)
	a1, err := out.Float(1, "semi_axes_a_mm")
	require.NoError(t, err)
	assert.InDelta(t, a0, a1, 0.5)
}

func TestProcessMissingMask(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "test.csv")
	require.NoError(t, testMeta("000_HC.png").Write(metaPath))

	g := NewGenerator(&Params{MetadataFile: metaPath, MaskDir: dir, MaskSuffix: "_Mask", OutputFile: filepath.Join(dir, "out.csv")})
	err := g.Process(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000_HC_Mask.png")
}

func TestMaskPath(t *testing.T) {
	assert.Equal(t, filepath.Join("pred", "000_HC_Mask.png"), MaskPath("pred", "000_HC.png", "_Mask"))
	assert.Equal(t, filepath.Join("pred", "000_HC.png"), MaskPath("pred", "000_HC.png", ""))
}
