package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var botTokenRe = regexp.MustCompile(`^\d{6,}:[A-Za-z0-9_-]{30,}$`)

type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
	Debug bool   `mapstructure:"debug"`
	// Outbound API calls per second across all chats.
	SendRate  float64 `mapstructure:"sendRate" validate:"min:0"`
	SendBurst int     `mapstructure:"sendBurst" validate:"min:1"`
}

type WebAppConfig struct {
	URL string `mapstructure:"url"`
}

type DataConfig struct {
	Dir          string   `mapstructure:"dir" validate:"required"`
	HistoryEW    string   `mapstructure:"historyEW" validate:"required"`
	HistoryED    string   `mapstructure:"historyED" validate:"required"`
	Top10        string   `mapstructure:"top10" validate:"required"`
	ProfileFiles []string `mapstructure:"profileFiles"`
	Links        string   `mapstructure:"links" validate:"required"`
	Saves        string   `mapstructure:"saves" validate:"required"`
	Placeholder  string   `mapstructure:"placeholder" validate:"required"`
	BenyaDir     string   `mapstructure:"benyaDir"`
	KryaDir      string   `mapstructure:"kryaDir"`
}

type PagerConfig struct {
	PageSize         int           `mapstructure:"pageSize" validate:"required|min:1"`
	LongDeleteDelay  time.Duration `mapstructure:"longDeleteDelay" validate:"required|min:1"`
	ShortDeleteDelay time.Duration `mapstructure:"shortDeleteDelay" validate:"required|min:1"`
}

type GitHubConfig struct {
	Token        string        `mapstructure:"token"`
	Repo         string        `mapstructure:"repo"`
	Branch       string        `mapstructure:"branch" validate:"required"`
	PathPrefix   string        `mapstructure:"pathPrefix"`
	APIURL       string        `mapstructure:"apiURL" validate:"required"`
	Interval     time.Duration `mapstructure:"interval" validate:"required|min:1"`
	InitialDelay time.Duration `mapstructure:"initialDelay" validate:"min:0"`
}

type LoggerConfig struct {
	Level  string `mapstructure:"level" validate:"required|in:trace,debug,info,warn,error"`
	Format string `mapstructure:"format" validate:"required|in:console,json"`
	File   string `mapstructure:"file"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type DBConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	WebApp   WebAppConfig   `mapstructure:"webapp"`
	Data     DataConfig     `mapstructure:"data"`
	Pager    PagerConfig    `mapstructure:"pager"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	DB       DBConfig       `mapstructure:"db"`
}

func DefaultConfigPath() string {
	if v := os.Getenv("GPB_CONFIG"); v != "" {
		return v
	}
	return "config.yaml"
}

// LoadDotEnv loads a .env file from the working directory when present.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)
	v.SetDefault("telegram.sendRate", 25.0)
	v.SetDefault("telegram.sendBurst", 10)

	v.SetDefault("webapp.url", "https://example.com/index.html")

	v.SetDefault("data.dir", ".")
	v.SetDefault("data.historyEW", "history_ew.json")
	v.SetDefault("data.historyED", "history_ed.json")
	v.SetDefault("data.top10", "top10.json")
	v.SetDefault("data.profileFiles", []string{})
	v.SetDefault("data.links", "user_links.json")
	v.SetDefault("data.saves", "tap_saves.json")
	v.SetDefault("data.placeholder", "no_avatar.jpg")
	v.SetDefault("data.benyaDir", "")
	v.SetDefault("data.kryaDir", "")

	v.SetDefault("pager.pageSize", 4)
	v.SetDefault("pager.longDeleteDelay", 300*time.Second)
	v.SetDefault("pager.shortDeleteDelay", 1*time.Second)

	v.SetDefault("github.token", "")
	v.SetDefault("github.repo", "")
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.pathPrefix", "")
	v.SetDefault("github.apiURL", "https://api.github.com")
	v.SetDefault("github.interval", 300*time.Second)
	v.SetDefault("github.initialDelay", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.file", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("db.path", "bot.db")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("telegram.token", "GPB_BOT_TOKEN", "BOT_TOKEN")
	_ = v.BindEnv("telegram.debug", "GPB_DEBUG")
	_ = v.BindEnv("webapp.url", "WEBAPP_URL")
	_ = v.BindEnv("data.dir", "REMANGA_DATA_DIR")
	_ = v.BindEnv("data.historyEW", "HISTORY_EW_FILE")
	_ = v.BindEnv("data.historyED", "HISTORY_ED_FILE")
	_ = v.BindEnv("data.top10", "TOP10_FILE")
	_ = v.BindEnv("data.profileFiles", "REMANGA_DATA_FILES")
	_ = v.BindEnv("github.token", "GITHUB_TOKEN")
	_ = v.BindEnv("github.repo", "GITHUB_REPO")
	_ = v.BindEnv("github.branch", "GITHUB_BRANCH")
	_ = v.BindEnv("github.pathPrefix", "GITHUB_PATH_PREFIX")
	_ = v.BindEnv("logger.level", "GPB_LOG_LEVEL")
	_ = v.BindEnv("metrics.enabled", "GPB_METRICS_ENABLED")
}

// Load reads the config file at path (optional), applies environment
// overrides, resolves data paths and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if filepath.Ext(path) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths() {
	c.Data.Dir = filepath.Clean(c.Data.Dir)
	c.Data.HistoryEW = c.Resolve(c.Data.HistoryEW)
	c.Data.HistoryED = c.Resolve(c.Data.HistoryED)
	c.Data.Top10 = c.Resolve(c.Data.Top10)
	c.Data.Links = c.Resolve(c.Data.Links)
	c.Data.Saves = c.Resolve(c.Data.Saves)
	c.Data.Placeholder = c.Resolve(c.Data.Placeholder)
	if c.Data.BenyaDir != "" {
		c.Data.BenyaDir = c.Resolve(c.Data.BenyaDir)
	}
	if c.Data.KryaDir != "" {
		c.Data.KryaDir = c.Resolve(c.Data.KryaDir)
	}
	c.DB.Path = c.Resolve(c.DB.Path)
	if c.Logger.File != "" {
		c.Logger.File = c.Resolve(c.Logger.File)
	}

	var files []string
	for _, p := range c.Data.ProfileFiles {
		p = strings.TrimSpace(p)
		if p != "" {
			files = append(files, c.Resolve(p))
		}
	}
	if len(files) == 0 {
		files = []string{c.Data.HistoryEW, c.Data.HistoryED, c.Resolve("history_e.json")}
	}
	c.Data.ProfileFiles = files

	c.GitHub.PathPrefix = strings.Trim(strings.ReplaceAll(strings.TrimSpace(c.GitHub.PathPrefix), "\\", "/"), "/")
	c.GitHub.APIURL = strings.TrimRight(c.GitHub.APIURL, "/")
}

// Resolve keeps absolute paths and joins relative ones onto the data dir.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Data.Dir, p)
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %w", v.Errors)
	}
	if !botTokenRe.MatchString(c.Telegram.Token) {
		return errors.New("invalid config: telegram token has an unexpected format (set BOT_TOKEN)")
	}
	if c.Telegram.SendRate > 0 && c.Telegram.SendBurst < 1 {
		return errors.New("invalid config: telegram.sendBurst must be at least 1")
	}
	return nil
}

// SyncEnabled reports whether enough GitHub settings are present to push.
func (c *Config) SyncEnabled() bool {
	return c.GitHub.Token != "" && c.GitHub.Repo != ""
}
