package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port          int
	APIToken      string
	LogLevel      string
	MongoURI      string
	MongoDatabase string
	OpenAIAPIKey  string
	ChatModel     string
	TTSModel      string
	SpeechKey     string
	SpeechRegion  string
	NatsURL       string
	NatsToken     string
}

func Load() Config {
	return Config{
		Port:          envInt("PARLO_PORT", 8650),
		APIToken:      envStr("PARLO_API_TOKEN", ""),
		LogLevel:      envStr("LOG_LEVEL", "info"),
		MongoURI:      envStr("MONGODB_URI", ""),
		MongoDatabase: envStr("MONGODB_DATABASE", "parlo"),
		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		ChatModel:     envStr("PARLO_CHAT_MODEL", "gpt-4o-mini"),
		TTSModel:      envStr("PARLO_TTS_MODEL", "tts-1"),
		SpeechKey:     envStr("SPEECH_KEY", ""),
		SpeechRegion:  envStr("SPEECH_REGION", "westeurope"),
		NatsURL:       envStr("NATS_URL", ""),
		NatsToken:     envStr("NATS_TOKEN", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
