package bookbot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opd-ai/horde"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// HordeClient generates cover art through the AI Horde. Covers are cached
// per prompt and concurrent requests for the same prompt share one job.
type HordeClient struct {
	*horde.Client
	logger *slog.Logger
	steps  int
	width  int
	height int
	model  string

	covers *cache.Cache
	group  singleflight.Group
	render func(ctx context.Context, prompt string) ([]byte, error)
}

// NewHordeClient returns a cover art client for the given API key.
func NewHordeClient(apiKey string, logger *slog.Logger) *HordeClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := &HordeClient{
		Client: horde.NewClient(apiKey),
		logger: logger.With(slog.String("component", "horde")),
		steps:  horde.DefaultSteps,
		width:  horde.DefaultWidth,
		height: horde.DefaultHeight,
		model:  horde.DefaultModel,
		covers: cache.New(6*time.Hour, time.Hour),
	}
	c.render = c.generate
	return c
}

// CoverPrompt describes the cover illustration for a book.
func CoverPrompt(title, goal string) string {
	return fmt.Sprintf("book cover illustration, clean minimal design, no text, theme: %s. %s", title, goal)
}

// Cover returns image bytes for the book title.
func (c *HordeClient) Cover(ctx context.Context, title, goal string) ([]byte, error) {
	prompt := CoverPrompt(title, goal)
	if img, ok := c.covers.Get(prompt); ok {
		return img.([]byte), nil
	}
	v, err, shared := c.group.Do(prompt, func() (any, error) {
		img, err := c.render(ctx, prompt)
		if err != nil {
			return nil, err
		}
		c.covers.SetDefault(prompt, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("cover request shared", slog.String("title", title))
	}
	return v.([]byte), nil
}

func (c *HordeClient) generate(ctx context.Context, prompt string) ([]byte, error) {
	c.logger.Info("starting cover generation",
		slog.Int("steps", c.steps),
		slog.Int("width", c.width),
		slog.Int("height", c.height),
		slog.String("model", c.model))

	req := horde.GenerationRequest{
		Prompt: prompt,
		Params: horde.Params{
			Steps:     c.steps,
			Width:     c.width,
			Height:    c.height,
			ModelName: c.model,
		},
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := c.RequestGeneration(req)
	if err != nil {
		return nil, fmt.Errorf("requesting generation: %w", err)
	}
	c.logger.Debug("cover request accepted", slog.String("id", resp.ID))

	// The horde client polls without a context; the result is dropped if
	// the caller gave up meanwhile.
	status, err := c.WaitForCompletion(resp.ID)
	if err != nil {
		return nil, fmt.Errorf("waiting for completion: %w", err)
	}
	if len(status.Generation) == 0 {
		return nil, fmt.Errorf("no results returned for %s", resp.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	imageData, err := c.DownloadImage(status.Generation[0].Image)
	if err != nil {
		return nil, fmt.Errorf("downloading image: %w", err)
	}
	c.logger.Info("cover downloaded", slog.Int("bytes", len(imageData)))
	return imageData, nil
}
