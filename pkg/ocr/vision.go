package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

const visionPrompt = `You transcribe medical prescriptions. Return the text exactly as written,
one output line per line on the page. Do not explain, translate, correct or add anything.
If a word is illegible write your best reading of its letters.`

// visionConfidence is reported for every line; the model gives no scores.
const visionConfidence = 0.6

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// VisionConfig configures NewVision.
type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxSide bounds the longest image side sent upstream.
	MaxSide int
	Logger  *zap.Logger
}

// Vision transcribes images with an OpenAI-compatible vision chat model.
type Vision struct {
	client  chatCompleter
	model   string
	timeout time.Duration
	maxSide int
	cb      *gobreaker.CircuitBreaker[string]
	log     *zap.Logger
}

// NewVision builds the vision engine. APIKey is required.
func NewVision(cfg VisionConfig) (*Vision, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: vision engine needs an API key", ErrEngineUnavailable)
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newVision(openai.NewClientWithConfig(oc), cfg), nil
}

func newVision(client chatCompleter, cfg VisionConfig) *Vision {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = 2000
	}
	log := cfg.Logger
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "vision-ocr",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return &Vision{client: client, model: cfg.Model, timeout: cfg.Timeout, maxSide: cfg.MaxSide, cb: cb, log: log}
}

func (v *Vision) Name() string { return "vision" }

func (v *Vision) Recognize(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	start := time.Now()
	dataURL, err := v.encode(img)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	text, err := v.cb.Execute(func() (string, error) {
		resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       v.model,
			Temperature: 0,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: visionPrompt},
				{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "Transcribe this prescription."},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh}},
				}},
			},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("vision response has no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	text = stripFences(text)
	lines := linesFromText(text, visionConfidence)
	if len(lines) == 0 {
		return nil, ErrNoText
	}
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	v.log.Info("vision done", zap.Int("lines", len(lines)), zap.Duration("took", time.Since(start)))
	return &Result{Engine: v.Name(), Text: strings.Join(texts, "\n"), Lines: lines, Duration: time.Since(start)}, nil
}

func (v *Vision) encode(img image.Image) (string, error) {
	b := img.Bounds()
	if b.Dx() > v.maxSide || b.Dy() > v.maxSide {
		img = imaging.Fit(img, v.maxSide, v.maxSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return "", fmt.Errorf("encode vision image: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// stripFences removes markdown code fences some models wrap around output.
func stripFences(s string) string {
	var keep []string
	for _, l := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		keep = append(keep, l)
	}
	return strings.Join(keep, "\n")
}
