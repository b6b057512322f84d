package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Keyring-Network/keyring-zssm/explainer/internal/llm"
	"github.com/Keyring-Network/keyring-zssm/explainer/internal/secrets"
)

const (
	ModeInline   = "inline"
	ModeTemporal = "temporal"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Model is one chat-completion endpoint. Token may be stored as
// "enc:<base64>" and is decrypted by ResolveSecrets.
type Model struct {
	Provider string `validate:"omitempty,oneof=openai deepseek siliconflow openrouter ollama custom"`
	Endpoint string `validate:"omitempty,url"`
	Token    string
	Model    string
}

func (m Model) LLM() llm.Config {
	return llm.Config{Provider: m.Provider, Endpoint: m.Endpoint, Token: m.Token, Model: m.Model}
}

type Config struct {
	Port              string `validate:"required,numeric"`
	ExecutionMode     string `validate:"oneof=inline temporal"`
	PostgresURL       string `validate:"omitempty,url"`
	TemporalAddress   string `validate:"required_if=ExecutionMode temporal"`
	TemporalTaskQueue string `validate:"required"`
	LogLevel          string `validate:"oneof=debug info warn error"`

	Text  Model
	Check Model
	// Vision is the image-description model.
	Vision Model

	BrowserProxy   string `validate:"omitempty,url"`
	BrowserType    string `validate:"oneof=chromium"`
	BrowserBin     string
	InstallBrowser bool

	PDFMaxSize  int64 `validate:"gt=0"`
	PDFMaxPages int   `validate:"gt=0"`
	PDFMaxChars int   `validate:"gt=0"`

	SecretsKey string
}

func Load() Config {
	return Config{
		Port:              getEnv("ZSSM_PORT", "8080"),
		ExecutionMode:     strings.ToLower(getEnv("ZSSM_EXECUTION_MODE", ModeInline)),
		PostgresURL:       getEnv("POSTGRES_URL", ""),
		TemporalAddress:   getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalTaskQueue: getEnv("TEMPORAL_TASK_QUEUE", "zssm-explain"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Text: Model{
			Provider: getEnv("ZSSM_AI_TEXT_PROVIDER", "deepseek"),
			Endpoint: getEnv("ZSSM_AI_TEXT_ENDPOINT", "https://api.deepseek.com/v1"),
			Token:    getEnv("ZSSM_AI_TEXT_TOKEN", ""),
			Model:    getEnv("ZSSM_AI_TEXT_MODEL", "deepseek-chat"),
		},
		Vision: Model{
			Provider: getEnv("ZSSM_AI_VL_PROVIDER", "siliconflow"),
			Endpoint: getEnv("ZSSM_AI_VL_ENDPOINT", "https://api.siliconflow.cn/v1"),
			Token:    getEnv("ZSSM_AI_VL_TOKEN", ""),
			Model:    getEnv("ZSSM_AI_VL_MODEL", "Qwen/Qwen2.5-VL-72B-Instruct"),
		},
		Check: Model{
			Provider: getEnv("ZSSM_AI_CHECK_PROVIDER", ""),
			Endpoint: getEnv("ZSSM_AI_CHECK_ENDPOINT", ""),
			Token:    getEnv("ZSSM_AI_CHECK_TOKEN", ""),
			Model:    getEnv("ZSSM_AI_CHECK_MODEL", ""),
		},
		BrowserProxy:   getEnv("ZSSM_BROWSER_PROXY", ""),
		BrowserType:    strings.ToLower(getEnv("ZSSM_BROWSER_TYPE", "chromium")),
		BrowserBin:     getEnv("ZSSM_BROWSER_BIN", ""),
		InstallBrowser: getEnvBool("ZSSM_INSTALL_BROWSER", false),
		PDFMaxSize:     int64(getEnvInt("ZSSM_PDF_MAX_SIZE", 10*1024*1024)),
		PDFMaxPages:    getEnvInt("ZSSM_PDF_MAX_PAGES", 50),
		PDFMaxChars:    getEnvInt("ZSSM_PDF_MAX_CHARS", 300000),
		SecretsKey:     getEnv("ZSSM_SECRETS_KEY", ""),
	}
}

// Validate reports every invalid field in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// ResolveSecrets decrypts any "enc:" tokens with SecretsKey.
func (c Config) ResolveSecrets() (Config, error) {
	var key []byte
	for _, token := range []*string{&c.Text.Token, &c.Vision.Token, &c.Check.Token} {
		if !secrets.IsSealed(*token) {
			continue
		}
		if key == nil {
			parsed, err := secrets.ParseKey(c.SecretsKey)
			if err != nil {
				return c, err
			}
			key = parsed
		}
		plain, err := secrets.Open(key, *token)
		if err != nil {
			return c, fmt.Errorf("decrypt token: %w", err)
		}
		*token = plain
	}
	return c, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
