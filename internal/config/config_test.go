package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				os.Setenv(tc.key, tc.envValue)
				defer os.Unsetenv(tc.key)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestMustGetEnv_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for missing required env var")
		}
	}()

	os.Unsetenv("NONEXISTENT_REQUIRED_VAR")
	mustGetEnv("NONEXISTENT_REQUIRED_VAR")
}

func TestMustGetEnv_ReturnsValue(t *testing.T) {
	os.Setenv("TEST_REQUIRED", "value123")
	defer os.Unsetenv("TEST_REQUIRED")

	result := mustGetEnv("TEST_REQUIRED")
	if result != "value123" {
		t.Errorf("Expected 'value123', got %q", result)
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("JWT_SECRET", "secret")
	os.Setenv("GEMINI_API_KEY", "key")
	defer os.Unsetenv("REDIS_URL")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.MaxDocumentBytes != 5*1024*1024 {
		t.Errorf("Expected 5MB document limit, got %d", cfg.MaxDocumentBytes)
	}
	if cfg.ChatRenderDebounce != 300*time.Millisecond {
		t.Errorf("Expected 300ms chat debounce, got %s", cfg.ChatRenderDebounce)
	}
	if cfg.EditRenderDebounce != 500*time.Millisecond {
		t.Errorf("Expected 500ms edit debounce, got %s", cfg.EditRenderDebounce)
	}
	if cfg.GenerationTimeout != 60*time.Second {
		t.Errorf("Expected 60s generation timeout, got %s", cfg.GenerationTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("JWT_SECRET", "secret")
	os.Setenv("GEMINI_API_KEY", "key")
	os.Setenv("EDIT_RENDER_DEBOUNCE_MS", "250")
	os.Setenv("KROKI_URL", "http://kroki:8000")
	defer os.Unsetenv("REDIS_URL")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("GEMINI_API_KEY")
	defer os.Unsetenv("EDIT_RENDER_DEBOUNCE_MS")
	defer os.Unsetenv("KROKI_URL")

	cfg := Load()

	if cfg.EditRenderDebounce != 250*time.Millisecond {
		t.Errorf("Expected 250ms edit debounce, got %s", cfg.EditRenderDebounce)
	}
	if cfg.KrokiURL != "http://kroki:8000" {
		t.Errorf("Expected overridden Kroki URL, got %q", cfg.KrokiURL)
	}
}

func TestLoad_RedisOptional(t *testing.T) {
	os.Unsetenv("REDIS_URL")
	os.Setenv("JWT_SECRET", "secret")
	os.Setenv("GEMINI_API_KEY", "key")
	defer os.Unsetenv("JWT_SECRET")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg := Load()

	if cfg.RedisURL != "" {
		t.Errorf("Expected empty Redis URL, got %q", cfg.RedisURL)
	}
}
