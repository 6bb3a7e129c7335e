// Package stage runs one masked image-edit call.
package stage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"

	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/dunamismax/pawtrait/internal/mask"
	"github.com/rs/zerolog"
)

// EditRequest is what an edit backend receives. Image and Mask are PNGs of
// Size x Size.
type EditRequest struct {
	Image  io.Reader
	Mask   io.Reader
	Prompt string
	Model  string
	Size   int
}

// EditResult carries exactly one of URL or B64JSON when the backend behaves.
type EditResult struct {
	URL     string
	B64JSON string
}

type Editor interface {
	Edit(ctx context.Context, req EditRequest) (EditResult, error)
	// Ready reports missing credentials before any work is attempted.
	Ready() error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type normalizer interface {
	Normalize(ctx context.Context, data []byte, target int) (imaging.Normalized, error)
}

// Request describes one stage.
type Request struct {
	Source []byte
	Prompt string
	Shape  mask.Shape
	Model  string
}

type Config struct {
	CanonicalSize int
	SafeRadius    float64
	TempDir       string
}

type Executor struct {
	editor     Editor
	fetcher    Fetcher
	normalizer normalizer
	cfg        Config
	logger     zerolog.Logger
}

func NewExecutor(editor Editor, fetcher Fetcher, norm *imaging.Normalizer, cfg Config, logger zerolog.Logger) *Executor {
	if cfg.CanonicalSize <= 0 {
		cfg.CanonicalSize = imaging.DefaultCanonicalSize
	}
	if cfg.SafeRadius <= 0 {
		cfg.SafeRadius = mask.DefaultSafeRadius
	}
	return &Executor{
		editor:     editor,
		fetcher:    fetcher,
		normalizer: norm,
		cfg:        cfg,
		logger:     logger.With().Str("component", "stage_executor").Logger(),
	}
}

func (e *Executor) Ready() error {
	if err := e.editor.Ready(); err != nil {
		return &Error{Kind: KindConfig, Err: err}
	}
	return nil
}

// Run normalizes the source, renders the mask at the size actually used,
// submits the edit and returns the decoded output bytes.
func (e *Executor) Run(ctx context.Context, req Request) ([]byte, error) {
	norm, err := e.normalizer.Normalize(ctx, req.Source, e.cfg.CanonicalSize)
	if err != nil {
		return nil, decodeError("normalize source: %w", err)
	}

	maskPNG, err := mask.Render(norm.Size, req.Shape, mask.Options{SafeRadius: e.cfg.SafeRadius})
	if err != nil {
		return nil, decodeError("render mask: %w", err)
	}

	imageFile, err := e.spool(norm.PNG, "image")
	if err != nil {
		return nil, err
	}
	defer e.discard(imageFile)

	maskFile, err := e.spool(maskPNG, "mask")
	if err != nil {
		return nil, err
	}
	defer e.discard(maskFile)

	result, err := e.editor.Edit(ctx, EditRequest{
		Image:  imageFile,
		Mask:   maskFile,
		Prompt: req.Prompt,
		Model:  req.Model,
		Size:   norm.Size,
	})
	if err != nil {
		var tagged *Error
		if errors.As(err, &tagged) {
			return nil, err
		}
		return nil, transportError("edit with %s: %w", req.Model, err)
	}

	return e.decode(ctx, result)
}

func (e *Executor) decode(ctx context.Context, result EditResult) ([]byte, error) {
	switch {
	case result.URL != "":
		data, err := e.fetcher.Fetch(ctx, result.URL)
		if err != nil {
			var tagged *Error
			if errors.As(err, &tagged) {
				return nil, err
			}
			return nil, transportError("fetch edited image: %w", err)
		}
		return data, nil
	case result.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(result.B64JSON)
		if err != nil {
			return nil, decodeError("decode b64_json: %w", err)
		}
		return data, nil
	default:
		return nil, decodeError("edit response has neither url nor b64_json")
	}
}

// spool writes data to a private temp file positioned at its start.
func (e *Executor) spool(data []byte, role string) (*os.File, error) {
	f, err := os.CreateTemp(e.cfg.TempDir, "pawtrait-"+role+"-*.png")
	if err != nil {
		return nil, transportError("create %s temp file: %w", role, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		e.discard(f)
		return nil, transportError("write %s temp file: %w", role, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		e.discard(f)
		return nil, transportError("rewind %s temp file: %w", role, err)
	}
	return f, nil
}

// discard closes and removes a temp file. Failures are logged and dropped so
// they never replace the stage outcome.
func (e *Executor) discard(f *os.File) {
	name := f.Name()
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		e.logger.Debug().Err(err).Str("path", name).Msg("close temp file")
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn().Err(err).Str("path", name).Msg("remove temp file")
	}
}
