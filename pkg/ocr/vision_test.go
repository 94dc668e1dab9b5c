package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	reply string
	err   error
	last  openai.ChatCompletionRequest
	calls int
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}},
	}}, nil
}

func TestVisionRecognize(t *testing.T) {
	fc := &fakeChat{reply: "```\nRx\nTab Azithromycin 500mg 1-0-0 x 3 days\n```"}
	v := newVision(fc, VisionConfig{Model: "test-model"})
	res, err := v.Recognize(context.Background(), testImage())
	require.NoError(t, err)
	assert.Equal(t, "vision", res.Engine)
	assert.Equal(t, "Rx\nTab Azithromycin 500mg 1-0-0 x 3 days", res.Text)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "test-model", fc.last.Model)
	require.Len(t, fc.last.Messages, 2)
	parts := fc.last.Messages[1].MultiContent
	require.Len(t, parts, 2)
	assert.Contains(t, parts[1].ImageURL.URL, "data:image/jpeg;base64,")
}

func TestVisionEmptyReply(t *testing.T) {
	v := newVision(&fakeChat{reply: "   "}, VisionConfig{})
	_, err := v.Recognize(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrNoText)
}

func TestVisionBreakerOpensAfterFailures(t *testing.T) {
	fc := &fakeChat{err: errors.New("upstream 500")}
	v := newVision(fc, VisionConfig{})
	for i := 0; i < 3; i++ {
		_, err := v.Recognize(context.Background(), testImage())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrEngineUnavailable)
	}
	_, err := v.Recognize(context.Background(), testImage())
	assert.ErrorIs(t, err, ErrEngineUnavailable)
	assert.Equal(t, 3, fc.calls)
}

func TestNewVisionRequiresKey(t *testing.T) {
	_, err := NewVision(VisionConfig{})
	assert.ErrorIs(t, err, ErrEngineUnavailable)
}
