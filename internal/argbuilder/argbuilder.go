// Package argbuilder deterministically derives a safe ffmpeg argument vector
// from a ConversionOptions configuration. It never shells out to build
// arguments and never interprets shell metacharacters: every token ends up
// as a literal argv element.
package argbuilder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/encodis/encodis/internal/apperr"
	"github.com/encodis/encodis/internal/model"
)

// Build derives an ArgVector for a single input file under the given
// conversion options. It is pure and deterministic: the same (file, opts)
// pair always yields byte-for-byte identical output.
func Build(file model.FileConfig, opts model.ConversionOptions) (model.ArgVector, error) {
	inputPath, err := sanitizePath(file.InputPath)
	if err != nil {
		return model.ArgVector{}, err
	}
	if inputPath == "" {
		return model.ArgVector{}, apperr.New(apperr.KindEmptyInput, "input path is empty", nil)
	}

	outputDir, err := sanitizePath(opts.OutputDir)
	if err != nil {
		return model.ArgVector{}, err
	}

	format := stripNulls(opts.OutputFormat)
	if format == "" {
		format = "mp4"
	}
	outputPath := deriveOutputPath(outputDir, inputPath, format)

	args := []string{"ffmpeg", "-i", inputPath}

	videoArgs, err := videoCodecBlock(opts)
	if err != nil {
		return model.ArgVector{}, err
	}
	args = append(args, videoArgs...)

	audioArgs, err := audioCodecBlock(opts)
	if err != nil {
		return model.ArgVector{}, err
	}
	args = append(args, audioArgs...)

	args = append(args, subtitleBlock(opts)...)
	args = append(args, filterBlock(opts)...)

	rateArgs, err := rateBlock(opts)
	if err != nil {
		return model.ArgVector{}, err
	}
	args = append(args, rateArgs...)

	args = append(args, "-progress", "pipe:1", "-y")
	args = append(args, tokenize(opts.CustomCommand)...)
	args = append(args, outputPath)

	return model.ArgVector{
		Args:          args,
		DisplayString: strings.Join(args, " "),
		InputPath:     inputPath,
		OutputPath:    outputPath,
	}, nil
}

func videoCodecBlock(opts model.ConversionOptions) ([]string, error) {
	codec := stripNulls(opts.VideoCodec)
	if codec == "" || codec == "copy" {
		return nil, nil
	}
	if !isKnownVideoCodec(codec) {
		return nil, apperr.New(apperr.KindUnknownCodec, fmt.Sprintf("unknown video codec %q", codec), nil)
	}
	return []string{"-c:v", codec}, nil
}

func audioCodecBlock(opts model.ConversionOptions) ([]string, error) {
	codec := stripNulls(opts.AudioCodec)
	if codec == "" || codec == "copy" {
		return nil, nil
	}
	if !isKnownAudioCodec(codec) {
		return nil, apperr.New(apperr.KindUnknownCodec, fmt.Sprintf("unknown audio codec %q", codec), nil)
	}
	return []string{"-c:a", codec}, nil
}

func subtitleBlock(opts model.ConversionOptions) []string {
	codec := stripNulls(opts.SubtitleCodec)
	switch codec {
	case "", "copy":
		return nil
	case "none":
		return []string{"-sn"}
	default:
		return []string{"-c:s", codec}
	}
}

func filterBlock(opts model.ConversionOptions) []string {
	filters := stripNulls(opts.Filters)
	if filters == "" {
		return nil
	}
	return []string{"-vf", filters}
}

func rateBlock(opts model.ConversionOptions) ([]string, error) {
	switch opts.BitrateMode {
	case "", "copy":
		return nil, nil
	case "cbr":
		if opts.VideoBitrateK <= 0 {
			return nil, apperr.New(apperr.KindValidation, "cbr mode requires a positive bitrate", nil)
		}
		return []string{"-b:v", strconv.Itoa(opts.VideoBitrateK) + "k"}, nil
	case "crf":
		args := []string{"-crf", strconv.Itoa(opts.CRF)}
		if preset := stripNulls(opts.Preset); preset != "" {
			args = append(args, "-preset", preset)
		}
		return args, nil
	default:
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("unknown bitrate mode %q", opts.BitrateMode), nil)
	}
}

// tokenize splits a free-form command string on ASCII whitespace into
// literal argv elements. It performs no shell interpretation whatsoever:
// characters such as ; | & ` $() <> survive byte-for-byte inside a token
// and can never start a new command because args are exec'd as an array.
func tokenize(raw string) []string {
	raw = stripNulls(raw)
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		default:
			return false
		}
	})
	return fields
}

func stripNulls(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// sanitizePath strips null bytes and rejects any path containing a ".."
// segment between separators. Absolute paths are permitted (this is a
// local-file tool, not a sandboxed multi-tenant service).
func sanitizePath(p string) (string, error) {
	p = stripNulls(p)
	if p == "" {
		return "", nil
	}
	normalized := filepath.ToSlash(p)
	for _, seg := range strings.Split(normalized, "/") {
		if seg == ".." {
			return "", apperr.New(apperr.KindPathTraversal, fmt.Sprintf("path traversal segment in %q", p), nil)
		}
	}
	return p, nil
}

func deriveOutputPath(outputDir, inputPath, format string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := stem + "_converted." + format
	if outputDir == "" {
		return name
	}
	return filepath.Join(outputDir, name)
}

var knownVideoCodecs = map[string]bool{
	"libx264": true, "libx265": true, "libvpx-vp9": true, "libaom-av1": true,
	"h264_nvenc": true, "hevc_nvenc": true, "mpeg4": true,
}

var knownAudioCodecs = map[string]bool{
	"aac": true, "libmp3lame": true, "libopus": true, "flac": true, "ac3": true,
}

func isKnownVideoCodec(c string) bool { return knownVideoCodecs[c] }
func isKnownAudioCodec(c string) bool { return knownAudioCodecs[c] }

// Validate is invoked by the executor immediately before spawn. It rejects
// any argument vector whose first element is not the literal "ffmpeg",
// guarding against a corrupted or maliciously substituted vector reaching
// exec.Command.
func Validate(v model.ArgVector) error {
	if len(v.Args) == 0 || v.Args[0] != "ffmpeg" {
		return apperr.New(apperr.KindDisallowedExecutable, "argument vector does not start with the ffmpeg executable", nil)
	}
	for _, a := range v.Args {
		if a == "" {
			return apperr.New(apperr.KindValidation, "argument vector contains an empty element", nil)
		}
	}
	return nil
}
