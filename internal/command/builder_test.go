package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// complete returns a builder with every field op requires.
func complete(t *testing.T, op Operation) *Builder {
	t.Helper()
	b := New()
	require.NoError(t, b.SetOperation(op))
	b.SetInput("in.mp4").SetOutput("out.mp4").
		SetReference("ref.mp4").SetDistorted("dist.mp4").
		Preset("6").CRF(30).MinVMAF(95)
	return b
}

func clearField(b *Builder, field Field) {
	switch field {
	case FieldInput:
		b.SetInput("")
	case FieldOutput:
		b.SetOutput("")
	case FieldReference:
		b.SetReference("")
	case FieldDistorted:
		b.SetDistorted("")
	default:
		b.Unset(string(field))
	}
}

func TestSetOperationRejectsUnknown(t *testing.T) {
	b := New()
	err := b.SetOperation(Operation("transcode"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	var invalid *InvalidOperationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "transcode", invalid.Operation)
	assert.Equal(t, Operation(""), b.Operation())
}

func TestParseOperation(t *testing.T) {
	cases := map[string]Operation{
		"encode":        Encode,
		"quality-vmaf":  VMAF,
		"vmaf":          VMAF,
		"Quality-XPSNR": XPSNR,
		" crf-search ":  CRFSearch,
	}
	for name, want := range cases {
		got, err := ParseOperation(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseOperation("psnr")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRenderWithoutOperation(t *testing.T) {
	_, err := New().SetInput("in.mp4").Render()
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldOperation, missing.Field)
}

func TestEachRequiredFieldIsEnforced(t *testing.T) {
	for _, op := range Operations() {
		for _, field := range op.Required() {
			t.Run(string(op)+"/"+string(field), func(t *testing.T) {
				b := complete(t, op)
				clearField(b, field)

				_, err := b.Render()
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMissingRequiredField)

				var missing *MissingFieldError
				require.ErrorAs(t, err, &missing)
				assert.Equal(t, field, missing.Field)
				assert.Equal(t, op, missing.Operation)

				restored := complete(t, op)
				_, err = restored.Render()
				assert.NoError(t, err)
			})
		}
	}
}

func TestRenderReportsFirstMissingFieldInOrder(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(Encode))
	b.CRF(30)

	_, err := b.Render()
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldInput, missing.Field)

	b.SetInput("in.mp4")
	_, err = b.Render()
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldOutput, missing.Field)

	b.SetOutput("out.mp4")
	_, err = b.Render()
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldPreset, missing.Field)
}

func TestRenderEncodeLayout(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(Encode))
	b.SetInput("in.mp4").SetOutput("out.mp4").CRF(30).Preset("6")

	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"encode", "-i", "in.mp4", "--crf", "30", "--preset", "6", "-o", "out.mp4"}, args)
}

func TestRenderEncodeLayoutIgnoresSetterOrder(t *testing.T) {
	b := New()
	b.Preset("6").Verbose(true).SetOutput("out.mp4")
	require.NoError(t, b.SetOperation(Encode))
	b.CRF(30).SetInput("in.mp4")

	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"encode", "-i", "in.mp4", "--crf", "30", "--preset", "6", "-o", "out.mp4", "--verbose"}, args)
}

func TestRenderAutoEncode(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(AutoEncode))
	b.SetInput("video.mp4").SetOutput("output.mp4").Preset("6").MinVMAF(95).MaxEncodedPercent(80)

	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"auto-encode", "-i", "video.mp4", "--preset", "6", "--min-vmaf", "95",
		"-o", "output.mp4", "--max-encoded-percent", "80",
	}, args)
}

func TestRenderCRFSearchOmitsOutputFlag(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(CRFSearch))
	b.SetInput("video.mp4").SetOutput("ignored.mp4").Preset("6").MinVMAF(95).MinCRF(20).MaxCRF(40)

	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"crf-search", "-i", "video.mp4", "--preset", "6", "--min-vmaf", "95",
		"--min-crf", "20", "--max-crf", "40",
	}, args)
	assert.NotContains(t, args, "-o")
}

func TestRenderQualityOperations(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(VMAF))
	b.SetDistorted("encoded.mp4")

	_, err := b.Render()
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, FieldReference, missing.Field)

	b.SetReference("original.mp4").SetInput("stray.mp4").SetOutput("stray-out.mp4")
	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"vmaf", "--reference", "original.mp4", "--distorted", "encoded.mp4"}, args)
	assert.NotContains(t, args, "-i")
	assert.NotContains(t, args, "-o")

	require.NoError(t, b.SetOperation(XPSNR))
	args, err = b.Render()
	require.NoError(t, err)
	assert.Equal(t, "xpsnr", args[0])
}

func TestBooleanOptions(t *testing.T) {
	b := complete(t, SampleEncode)
	b.FullVMAF(true).Verbose(false).Sample(60)

	args, err := b.Render()
	require.NoError(t, err)
	assert.Contains(t, args, "--full-vmaf")
	assert.NotContains(t, args, "--verbose")
	assert.NotContains(t, args, "false")
	assert.Contains(t, args, "--sample")
	assert.Contains(t, args, "60")

	v, ok := b.Option(KeyVerbose)
	require.True(t, ok)
	assert.True(t, v.IsFlag())
	assert.False(t, v.Enabled())
}

func TestLastWriteWinsKeepsPosition(t *testing.T) {
	b := complete(t, Encode)
	b.PixelFormat("yuv420p").Encoder("svt-av1").PixelFormat("yuv420p10le")

	args, err := b.Render()
	require.NoError(t, err)
	tail := args[len(args)-4:]
	assert.Equal(t, []string{"--pix-fmt", "yuv420p10le", "--encoder", "svt-av1"}, tail)
}

func TestRenderIsDeterministic(t *testing.T) {
	build := func() *Builder {
		b := New()
		_ = b.SetOperation(AutoEncode)
		b.SetInput("in file.mp4").SetOutput("out.mp4").Preset("8").MinVMAF(93.5).
			MinCRF(18).MaxCRF(44).Verbose(true).SetOption("vmaf", "n_subsample=4")
		return b
	}

	first, err := build().Render()
	require.NoError(t, err)
	second, err := build().Render()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, build().String(), build().String())
}

func TestRenderHasNoSideEffects(t *testing.T) {
	b := complete(t, Encode)
	before := b.Options()

	first, err := b.Render()
	require.NoError(t, err)
	second, err := b.Render()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, b.Options())
}

func TestResetMatchesFreshBuilder(t *testing.T) {
	b := complete(t, Encode)
	b.Verbose(true).TempDir("/tmp/x")
	b.Reset()

	fresh := New()
	assert.Equal(t, fresh.Operation(), b.Operation())
	assert.Equal(t, fresh.Input(), b.Input())
	assert.Equal(t, fresh.Output(), b.Output())
	assert.Equal(t, fresh.Reference(), b.Reference())
	assert.Equal(t, fresh.Distorted(), b.Distorted())
	assert.Equal(t, fresh.Options(), b.Options())
	assert.False(t, b.Has(KeyPreset))
	assert.Equal(t, *fresh, *b)
}

func TestStringQuotesPaths(t *testing.T) {
	b := New()
	require.NoError(t, b.SetOperation(Encode))
	b.SetInput("my video.mp4").SetOutput("out.mp4").CRF(30).Preset("6")

	assert.Equal(t, "ab-av1 encode -i 'my video.mp4' --crf 30 --preset 6 -o out.mp4", b.String())

	args, err := b.Render()
	require.NoError(t, err)
	assert.Equal(t, "my video.mp4", args[2])
}

func TestUnsetReindexes(t *testing.T) {
	b := New()
	b.SetOption("a", 1).SetOption("b", 2).SetOption("c", 3)
	b.Unset("a")
	b.SetOption("b", 20)

	opts := b.Options()
	require.Len(t, opts, 2)
	assert.Equal(t, "b", opts[0].Key)
	assert.Equal(t, "20", opts[0].Value.String())
	assert.Equal(t, "c", opts[1].Key)
}

func TestCloneIsIndependent(t *testing.T) {
	b := complete(t, Encode)
	c := b.Clone()
	assert.Equal(t, b.String(), c.String())

	c.SetOutput("other.mp4").CRF(20).Unset(KeyPreset)
	require.NoError(t, c.SetOperation(AutoEncode))

	assert.Equal(t, Encode, b.Operation())
	assert.Equal(t, "out.mp4", b.Output())
	crf, _ := b.Option(KeyCRF)
	assert.Equal(t, "30", crf.String())
	assert.True(t, b.Has(KeyPreset))
	assert.Equal(t, "ab-av1 encode -i in.mp4 --crf 30 --preset 6 -o out.mp4 --min-vmaf 95", b.String())
}
