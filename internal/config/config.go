package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	GeminiAPIKey  string
	GeminiModelID string
	GeminiBaseURL string

	// LLM admission control
	DailyQuota     int
	MaxPerMinute   int
	QueueCapacity  int
	MaxRetries     int
	RetryBaseDelay time.Duration
	QuotaRetryWait time.Duration
	MinInterval    time.Duration

	AssemblyAIKey    string
	DeepgramKey      string
	DeepgramTTSModel string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string

	DataDir string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - interview questions fall back to templates until a key is provided")
	}
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-1.5-flash"
	}
	geminiBase := os.Getenv("GEMINI_BASE_URL")
	if geminiBase == "" {
		geminiBase = "https://generativelanguage.googleapis.com"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - server-side transcription disabled; utterances must arrive as text")
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - spoken prompts disabled")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: Supabase not configured - sessions persist to the local store only")
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = ".data"
	}

	cfg := Config{
		HTTPAddress:            addr,
		GeminiAPIKey:           geminiKey,
		GeminiModelID:          geminiModel,
		GeminiBaseURL:          geminiBase,
		DailyQuota:             intEnv("LLM_DAILY_QUOTA", 50),
		MaxPerMinute:           intEnv("LLM_MAX_PER_MINUTE", 8),
		QueueCapacity:          intEnv("LLM_QUEUE_CAPACITY", 16),
		MaxRetries:             intEnv("LLM_MAX_RETRIES", 3),
		RetryBaseDelay:         durationEnv("LLM_RETRY_BASE_DELAY", 2*time.Second),
		QuotaRetryWait:         durationEnv("LLM_QUOTA_RETRY_WAIT", 30*time.Second),
		MinInterval:            durationEnv("LLM_MIN_INTERVAL", 1500*time.Millisecond),
		AssemblyAIKey:          assemblyAIKey,
		DeepgramKey:            deepgramKey,
		DeepgramTTSModel:       os.Getenv("DEEPGRAM_TTS_MODEL"),
		SupabaseURL:            supabaseURL,
		SupabaseServiceRoleKey: supabaseKey,
		SupabaseBucket:         envOr("SUPABASE_BUCKET", "interview-recordings"),
		DataDir:                dataDir,
	}

	log.Printf("config: HTTP_ADDRESS=%s model=%s quota=%d/day", cfg.HTTPAddress, cfg.GeminiModelID, cfg.DailyQuota)
	return cfg
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, raw, defaultValue)
		return defaultValue
	}
	return v
}

func durationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return v
}
