package breed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dunamismax/pawtrait/internal/imaging"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
)

// Vision sends one image plus a prompt to a vision-capable model and returns
// its raw text answer.
type Vision interface {
	Describe(ctx context.Context, model string, prompt Prompt, imagePNG []byte) (string, error)
}

type Result struct {
	Key         string
	Description string
	Resolution  Resolution
	Model       string
}

// Fallback reports whether the key came from a fallback rule rather than
// from the model's answer.
func (r Result) Fallback() bool {
	switch r.Resolution {
	case ResolvedJSON, ResolvedKey, ResolvedSynonym:
		return false
	default:
		return true
	}
}

// ClassificationError describes a failed vision call. It is logged, never
// returned to callers of Classify.
type ClassificationError struct {
	Model string
	Err   error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify with %s: %v", e.Model, e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

type ClassifierConfig struct {
	PrimaryModel   string
	SecondaryModel string
	MaxDim         int
	CacheTTL       time.Duration
}

type Classifier struct {
	vision Vision
	cfg    ClassifierConfig
	logger zerolog.Logger
	memo   *cache.Cache

	mu  sync.Mutex
	rng *rand.Rand
}

// NewClassifier wires a vision backend. rng drives the refusal fallback and
// must not be shared with other goroutines.
func NewClassifier(vision Vision, cfg ClassifierConfig, rng *rand.Rand, logger zerolog.Logger) *Classifier {
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = 2048
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	return &Classifier{
		vision: vision,
		cfg:    cfg,
		logger: logger.With().Str("component", "breed_classifier").Logger(),
		memo:   cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		rng:    rng,
	}
}

// Classify always returns a canonical breed. Failures degrade to a fallback
// key and are logged.
func (c *Classifier) Classify(ctx context.Context, image []byte) Result {
	sum := sha256.Sum256(image)
	digest := hex.EncodeToString(sum[:])
	if cached, ok := c.memo.Get(digest); ok {
		return cached.(Result)
	}

	thumb, err := imaging.Thumbnail(image, c.cfg.MaxDim)
	if err != nil {
		c.logger.Warn().Err(err).Msg("portrait could not be decoded; using default breed")
		return c.result(Default, ResolvedInvalidImage, "")
	}

	prompt := ClassificationPrompt()
	var (
		answer string
		model  string
	)
	for _, candidate := range []string{c.cfg.PrimaryModel, c.cfg.SecondaryModel} {
		if candidate == "" {
			continue
		}
		answer, err = c.vision.Describe(ctx, candidate, prompt, thumb)
		if err == nil {
			model = candidate
			break
		}
		c.logger.Warn().Err(&ClassificationError{Model: candidate, Err: err}).Msg("vision model failed")
	}
	if model == "" {
		c.logger.Error().Err(err).Str("fallback", Default).Msg("all vision models failed; using default breed")
		return c.result(Default, ResolvedAPIError, "")
	}

	key, how := Parse(answer)
	switch how {
	case ResolvedRefusal:
		key = c.randomKey()
		c.logger.Warn().Str("model", model).Str("breed", key).Str("answer", answer).Msg("model refused; picked random breed")
	case ResolvedDefault:
		c.logger.Warn().Str("model", model).Str("answer", answer).Msg("unparseable answer; using default breed")
	default:
		c.logger.Debug().Str("model", model).Str("breed", key).Str("rule", string(how)).Msg("breed detected")
	}

	res := c.result(key, how, model)
	c.memo.SetDefault(digest, res)
	return res
}

func (c *Classifier) randomKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return taxonomy[c.rng.IntN(len(taxonomy))].Key
}

func (c *Classifier) result(key string, how Resolution, model string) Result {
	return Result{
		Key:         key,
		Description: MustLookup(key).Description,
		Resolution:  how,
		Model:       model,
	}
}
