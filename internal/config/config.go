package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Account is one platform account the daemon acts on behalf of.
type Account struct {
	ID       string `json:"id" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=linkedin x instagram"`
	Token    string `json:"token"`
}

type Config struct {
	DataDir       string `json:"data_dir" validate:"required"`
	LogLevel      string `json:"log_level" validate:"oneof=debug info warn error"`
	MaxConcurrent int    `json:"max_concurrent" validate:"gte=1"`
	MaxSteps      int    `json:"max_steps" validate:"gte=1"`
	Listen        string `json:"listen" validate:"required"`
	// SessionKey encrypts browser sessions at rest. 32 bytes, hex-encoded;
	// generated on first load.
	SessionKey string `json:"session_key" validate:"required,len=64,hexadecimal"`
	LLM        struct {
		Provider     string  `json:"provider" validate:"required"`
		BaseURL      string  `json:"base_url" validate:"required,url"`
		APIKey       string  `json:"api_key"`
		Model        string  `json:"model" validate:"required"`
		MaxTokens    int     `json:"max_tokens" validate:"gte=1"`
		Temperature  float32 `json:"temperature" validate:"gte=0,lte=2"`
		PromptBudget int     `json:"prompt_budget" validate:"gte=1"`
	} `json:"llm"`
	Brave struct {
		APIKey string `json:"api_key"`
	} `json:"brave"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
	Platform struct {
		BaseURL  string    `json:"base_url" validate:"omitempty,url"`
		Accounts []Account `json:"accounts" validate:"dive"`
	} `json:"platform"`
	Sync struct {
		MaxPages int `json:"max_pages" validate:"gte=0"`
	} `json:"sync"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load(path string) (*Config, error) {
	// .env values become env vars; real env vars win.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".magpie"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		MaxSteps:      20,
		Listen:        ":8787",
	}
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.LLM.PromptBudget = 8000
	cfg.Sync.MaxPages = 50

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		if cfg.SessionKey == "" {
			cfg.SessionKey = newSessionKey()
			if err := writeFile(path, cfg); err != nil {
				return nil, err
			}
		}
	} else if os.IsNotExist(err) {
		cfg.SessionKey = newSessionKey()
		if err := writeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if braveKey := os.Getenv("BRAVE_API_KEY"); braveKey != "" {
		cfg.Brave.APIKey = braveKey
	}
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if tgChat := os.Getenv("TELEGRAM_CHAT_ID"); tgChat != "" {
		if id, err := strconv.ParseInt(tgChat, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if key := os.Getenv("MAGPIE_SESSION_KEY"); key != "" {
		cfg.SessionKey = key
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// SessionKeyBytes decodes the hex session key into the 32-byte secretbox
// key.
func (c *Config) SessionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("decode session key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// AccountTokens maps account IDs to their platform API tokens, the shape
// the platform client wants.
func (c *Config) AccountTokens() map[string]string {
	tokens := make(map[string]string, len(c.Platform.Accounts))
	for _, acct := range c.Platform.Accounts {
		tokens[acct.ID] = acct.Token
	}
	return tokens
}

func newSessionKey() string {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		panic(fmt.Sprintf("read random session key: %v", err))
	}
	return hex.EncodeToString(key[:])
}

func writeFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
