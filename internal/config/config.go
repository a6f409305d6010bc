package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/nyahyun/diffusers-mastodon-bot/internal/game"
)

var (
	ErrMissingToken    = errors.New("mastodon access token is required (ACCESS_TOKEN or config/access_token.txt)")
	ErrMissingEndpoint = errors.New("mastodon endpoint url is required (ENDPOINT_URL or config/endpoint_url.txt)")
)

type Config struct {
	Port      string
	ConfigDir string

	AccessToken  string
	EndpointURL  string
	StreamingURL string

	// Posted when the bot starts and stops listening. Empty disables.
	ListenStart string
	ListenEnd   string

	DiffuseTag   string
	GameStartTag string
	GameStopTag  string

	WebUIHost string
	// ProcKwargs are default render parameters.
	ProcKwargs map[string]any
	GridCell   int

	EmbeddingProvider string
	EmbeddingModel    string
	OllamaHost        string
	OpenAIKey         string
	OpenAIBaseURL     string

	Game game.SessionConfig

	DBPath        string
	PruneAfter    time.Duration
	ExportEnabled bool
	ExportFile    string

	AdminUser string
	AdminPass string

	LogLevel string
	LogFile  string
}

func FromEnv() Config {
	c := Config{}
	c.Port = getenv("PORT", "8080")
	c.ConfigDir = getenv("CONFIG_DIR", "./config")
	c.AccessToken = os.Getenv("ACCESS_TOKEN")
	c.EndpointURL = os.Getenv("ENDPOINT_URL")
	c.StreamingURL = os.Getenv("STREAMING_URL")
	c.ListenStart = os.Getenv("TOOT_LISTEN_START")
	c.ListenEnd = os.Getenv("TOOT_LISTEN_END")
	c.DiffuseTag = getenv("DIFFUSE_TAG", "diffuse_me")
	c.GameStartTag = getenv("GAME_START_TAG", "diffuse_game")
	c.GameStopTag = getenv("GAME_STOP_TAG", "diffuse_game_stop")
	c.WebUIHost = getenv("WEBUI_HOST", "http://localhost:7860")
	c.GridCell = getint("GRID_CELL", 256)
	c.EmbeddingProvider = getenv("EMBEDDING_PROVIDER", "ollama")
	c.EmbeddingModel = getenv("EMBEDDING_MODEL", "nomic-embed-text")
	c.OllamaHost = getenv("OLLAMA_HOST", "http://localhost:11434")
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	c.Game = game.SessionConfig{
		InitialChance:               getint("GAME_INITIAL_CHANCE", game.DefaultInitialChance),
		IncludeNegativeOnFinalScore: getenv("GAME_INCLUDE_NEGATIVE", "false") == "true",
		Duration:                    getduration("GAME_DURATION", 30*time.Minute),
		WinScore:                    getfloat("GAME_WIN_SCORE", 0),
	}
	c.DBPath = getenv("DB_PATH", "./diffusebot.db")
	c.PruneAfter = getduration("PRUNE_AFTER", 7*24*time.Hour)
	c.ExportEnabled = getenv("EXPORT_ENABLED", "true") == "true"
	c.ExportFile = getenv("EXPORT_FILE", "./diffusebot-results.txt")
	c.AdminUser = os.Getenv("ADMIN_USER")
	c.AdminPass = os.Getenv("ADMIN_PASS")
	c.LogLevel = getenv("LOG_LEVEL", "info")
	c.LogFile = os.Getenv("LOG_FILE")
	return c
}

// Load reads the environment, then fills gaps from the config directory and
// applies the optional YAML overlay file on top.
func Load(overlayPath string) (Config, error) {
	c := FromEnv()
	if err := c.readConfigDir(); err != nil {
		return c, err
	}
	if overlayPath != "" {
		if err := c.applyOverlay(overlayPath); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (c *Config) readConfigDir() error {
	fill := func(dst *string, name string) error {
		if *dst != "" {
			return nil
		}
		v, err := readTextFile(filepath.Join(c.ConfigDir, name))
		if err != nil {
			return err
		}
		*dst = v
		return nil
	}
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&c.AccessToken, "access_token.txt"},
		{&c.EndpointURL, "endpoint_url.txt"},
		{&c.ListenStart, "toot_listen_start.txt"},
		{&c.ListenEnd, "toot_listen_end.txt"},
	} {
		if err := fill(f.dst, f.name); err != nil {
			return err
		}
	}

	for _, name := range []string{"proc_kwargs.json", "proc_kwargs.yaml"} {
		raw, err := readTextFile(filepath.Join(c.ConfigDir, name))
		if err != nil {
			return err
		}
		if raw == "" {
			continue
		}
		kwargs := map[string]any{}
		if err := yaml.Unmarshal([]byte(raw), &kwargs); err != nil {
			return fmt.Errorf("failed to parse %s: %w", name, err)
		}
		c.ProcKwargs = kwargs
		break
	}
	return nil
}

// readTextFile returns the trimmed content of a file; a missing or blank file
// reads as "".
func readTextFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return strings.TrimSpace(string(b)), nil
}

type overlay struct {
	Port     string `yaml:"port"`
	Mastodon struct {
		EndpointURL  string `yaml:"endpoint_url"`
		StreamingURL string `yaml:"streaming_url"`
		AccessToken  string `yaml:"access_token"`
		ListenStart  string `yaml:"listen_start"`
		ListenEnd    string `yaml:"listen_end"`
	} `yaml:"mastodon"`
	Tags struct {
		Diffuse   string `yaml:"diffuse"`
		GameStart string `yaml:"game_start"`
		GameStop  string `yaml:"game_stop"`
	} `yaml:"tags"`
	Diffusion struct {
		Host     string         `yaml:"host"`
		Defaults map[string]any `yaml:"defaults"`
		GridCell int            `yaml:"grid_cell"`
	} `yaml:"diffusion"`
	Embedding struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		Host     string `yaml:"host"`
	} `yaml:"embedding"`
	Game game.SessionConfig `yaml:"game"`
}

func (c *Config) applyOverlay(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	// keys absent from the file keep their current values
	o := overlay{Game: c.Game}
	if err := yaml.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Port, o.Port)
	set(&c.EndpointURL, o.Mastodon.EndpointURL)
	set(&c.StreamingURL, o.Mastodon.StreamingURL)
	set(&c.AccessToken, o.Mastodon.AccessToken)
	set(&c.ListenStart, o.Mastodon.ListenStart)
	set(&c.ListenEnd, o.Mastodon.ListenEnd)
	set(&c.DiffuseTag, o.Tags.Diffuse)
	set(&c.GameStartTag, o.Tags.GameStart)
	set(&c.GameStopTag, o.Tags.GameStop)
	set(&c.WebUIHost, o.Diffusion.Host)
	set(&c.EmbeddingProvider, o.Embedding.Provider)
	set(&c.EmbeddingModel, o.Embedding.Model)
	set(&c.OllamaHost, o.Embedding.Host)
	if o.Diffusion.GridCell > 0 {
		c.GridCell = o.Diffusion.GridCell
	}
	if len(o.Diffusion.Defaults) > 0 {
		if c.ProcKwargs == nil {
			c.ProcKwargs = map[string]any{}
		}
		for k, v := range o.Diffusion.Defaults {
			c.ProcKwargs[k] = v
		}
	}
	c.Game = o.Game
	return nil
}

// Validate reports settings the bot cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.AccessToken == "" {
		errs = append(errs, ErrMissingToken)
	}
	if c.EndpointURL == "" {
		errs = append(errs, ErrMissingEndpoint)
	}
	if c.Game.InitialChance < 0 {
		errs = append(errs, fmt.Errorf("game initial chance must not be negative, got %d", c.Game.InitialChance))
	}
	if c.Game.WinScore < 0 || c.Game.WinScore > 1 {
		errs = append(errs, fmt.Errorf("game win score must be within [0, 1], got %g", c.Game.WinScore))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", k).Str("value", v).Msg("config: not an integer, using default")
		return def
	}
	return n
}

func getfloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", k).Str("value", v).Msg("config: not a number, using default")
		return def
	}
	return f
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", k).Str("value", v).Msg("config: not a duration, using default")
		return def
	}
	return d
}
