package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// fallbackEncoding is used when the configured model is unknown to tiktoken.
const fallbackEncoding = "cl100k_base"

// TokenCounter estimates token usage for completion calls whose provider did
// not report usage. Estimates are for accounting only and are never exact.
type TokenCounter struct {
	model  string
	logger *zap.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the given model name.
func NewTokenCounter(model string, logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCounter{model: model, logger: logger}
}

func (t *TokenCounter) encoding() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(t.model)
		if err != nil {
			t.logger.Debug("model unknown to tiktoken, using fallback encoding",
				zap.String("model", t.model))
			enc, err = tiktoken.GetEncoding(fallbackEncoding)
			if err != nil {
				t.logger.Warn("token counter unavailable", zap.Error(err))
				return
			}
		}
		t.enc = enc
	})
	return t.enc
}

// Count returns the token count of a single string, or 0 when the encoder is
// unavailable.
func (t *TokenCounter) Count(text string) int {
	enc := t.encoding()
	if enc == nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// Estimate approximates the usage of one completion call from its request
// messages and the produced text.
func (t *TokenCounter) Estimate(req *ChatRequest, completionText string) ChatUsage {
	var prompt int
	for _, m := range req.Messages {
		prompt += t.Count(m.Content)
		for _, tc := range m.ToolCalls {
			prompt += t.Count(string(tc.Arguments))
		}
	}
	completion := t.Count(completionText)
	return ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
