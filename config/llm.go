package config

import (
	"sync"
)

var (
	llmOnce   sync.Once
	llmConfig *LLMConfig
)

type LLMConfig struct {
	APIKey string
	Model  string
}

func GetLLMConfig() *LLMConfig {
	llmOnce.Do(func() {
		loadEnv()

		llmConfig = &LLMConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-5-mini"),
		}
	})
	return llmConfig
}
