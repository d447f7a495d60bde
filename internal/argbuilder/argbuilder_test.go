package argbuilder

import (
	"errors"
	"strings"
	"testing"

	"github.com/encodis/encodis/internal/apperr"
	"github.com/encodis/encodis/internal/model"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func baseOpts() model.ConversionOptions {
	return model.ConversionOptions{
		OutputDir:    "/out",
		OutputFormat: "mp4",
		VideoCodec:   "libx265",
		AudioCodec:   "aac",
		BitrateMode:  "crf",
		CRF:          22,
		Preset:       "medium",
	}
}

func TestBuild_Deterministic(t *testing.T) {
	file := model.FileConfig{InputPath: "/in/movie.mkv", Name: "movie.mkv"}
	opts := baseOpts()

	a, err := Build(file, opts)
	require.NoError(t, err)
	b, err := Build(file, opts)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("Build is not deterministic (-a +b):\n%s", diff)
	}
	require.Equal(t, "ffmpeg", a.Args[0])
}

func TestBuild_ArgOrderingFixed(t *testing.T) {
	file := model.FileConfig{InputPath: "/in/movie.mkv"}
	opts := baseOpts()
	opts.Filters = "scale=1280:-2"

	v, err := Build(file, opts)
	require.NoError(t, err)

	joined := strings.Join(v.Args, " ")
	order := []string{"-i /in/movie.mkv", "-c:v libx265", "-c:a aac", "-vf scale=1280:-2", "-crf 22", "-preset medium", "-progress pipe:1", "-y"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(joined, marker)
		require.GreaterOrEqualf(t, idx, 0, "missing %q in %q", marker, joined)
		require.Greaterf(t, idx, last, "%q out of order in %q", marker, joined)
		last = idx
	}
}

func TestBuild_CopyBlocksOmitted(t *testing.T) {
	file := model.FileConfig{InputPath: "/in/movie.mkv"}
	opts := model.ConversionOptions{OutputDir: "/out", OutputFormat: "mp4", VideoCodec: "copy", AudioCodec: "copy"}

	v, err := Build(file, opts)
	require.NoError(t, err)
	require.NotContains(t, v.Args, "-c:v")
	require.NotContains(t, v.Args, "-c:a")
}

func TestBuild_CBRvsCRF(t *testing.T) {
	file := model.FileConfig{InputPath: "/in/movie.mkv"}

	cbr := baseOpts()
	cbr.BitrateMode = "cbr"
	cbr.VideoBitrateK = 4000
	v, err := Build(file, cbr)
	require.NoError(t, err)
	require.Contains(t, v.Args, "-b:v")
	require.Contains(t, v.Args, "4000k")
	require.NotContains(t, v.Args, "-crf")

	crf := baseOpts()
	v2, err := Build(file, crf)
	require.NoError(t, err)
	require.Contains(t, v2.Args, "-crf")
	require.NotContains(t, v2.Args, "-b:v")
}

func TestBuild_PathTraversalRejected(t *testing.T) {
	file := model.FileConfig{InputPath: "../../etc/passwd"}
	_, err := Build(file, baseOpts())
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrPathTraversal))
}

func TestBuild_AbsolutePathsPermitted(t *testing.T) {
	file := model.FileConfig{InputPath: "/srv/media/movie.mkv"}
	v, err := Build(file, baseOpts())
	require.NoError(t, err)
	require.Equal(t, "/srv/media/movie.mkv", v.InputPath)
}

func TestBuild_EmptyInputRejected(t *testing.T) {
	_, err := Build(model.FileConfig{InputPath: ""}, baseOpts())
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrEmptyInput))
}

func TestBuild_UnknownCodecRejected(t *testing.T) {
	opts := baseOpts()
	opts.VideoCodec = "vaporware9000"
	_, err := Build(model.FileConfig{InputPath: "/in/a.mkv"}, opts)
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrUnknownCodec))
}

func TestBuild_CommandInjectionNeutralized(t *testing.T) {
	opts := baseOpts()
	opts.CustomCommand = "-c:v libx264; echo PWNED"
	v, err := Build(model.FileConfig{InputPath: "/in/a.mkv"}, opts)
	require.NoError(t, err)

	require.Contains(t, v.Args, ";")
	require.Contains(t, v.Args, "echo")
	require.Contains(t, v.Args, "PWNED")

	// Every argv element is a single literal token: none contains
	// embedded whitespace that would imply shell splitting happened here.
	for _, a := range v.Args {
		require.NotContains(t, a, " ; ")
	}
}

func TestBuild_NoEmptyArgElements(t *testing.T) {
	v, err := Build(model.FileConfig{InputPath: "/in/a.mkv"}, baseOpts())
	require.NoError(t, err)
	for i, a := range v.Args {
		require.NotEqualf(t, "", a, "empty arg at index %d", i)
	}
}

func TestValidate_RejectsNonFFmpeg(t *testing.T) {
	err := Validate(model.ArgVector{Args: []string{"sh", "-c", "evil"}})
	require.Error(t, err)
	require.True(t, errors.Is(err, apperr.ErrDisallowedExecutable))
}

func TestValidate_AcceptsFFmpegVector(t *testing.T) {
	err := Validate(model.ArgVector{Args: []string{"ffmpeg", "-i", "in.mp4", "out.mp4"}})
	require.NoError(t, err)
}

func TestDeriveOutputPath_Naming(t *testing.T) {
	v, err := Build(model.FileConfig{InputPath: "/in/My Movie.mkv"}, baseOpts())
	require.NoError(t, err)
	require.Equal(t, "/out/My Movie_converted.mp4", v.OutputPath)
}
