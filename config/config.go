package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	TimezoneName         string         `yaml:"timezone"`
	Timezone             *time.Location `yaml:"-"`
	TasksFile            string         `yaml:"tasks_file"`
	DatabasePath         string         `yaml:"database_path"`
	ServerPort           string         `yaml:"server_port"`
	AllowedOrigins       []string       `yaml:"allowed_origins"`
	Debug                bool           `yaml:"debug"`
	DailySummaryTime     string         `yaml:"daily_summary_time"`
	OverdueSweepInterval time.Duration  `yaml:"overdue_sweep_interval"`
	SendTimeout          time.Duration  `yaml:"send_timeout"`

	Desktop  DesktopConfig  `yaml:"desktop"`
	Email    EmailConfig    `yaml:"email"`
	Mobile   MobileConfig   `yaml:"mobile"`
	Calendar CalendarConfig `yaml:"calendar"`
	Inbox    InboxConfig    `yaml:"inbox"`
}

type DesktopConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AppName  string `yaml:"app_name"`
	IconPath string `yaml:"icon_path"`
}

type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"smtp_host"`
	Port     int    `yaml:"smtp_port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`

	// AllowInsecure permits a session without STARTTLS, for local relays.
	AllowInsecure bool `yaml:"allow_insecure"`
}

type MobileConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TelegramToken string `yaml:"telegram_token"`
	Topic         string `yaml:"topic"`
}

type CalendarConfig struct {
	URL          string        `yaml:"url"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	CalendarPath string        `yaml:"calendar_path"`
	LeadTime     time.Duration `yaml:"lead_time"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// InboxConfig points at the IMAP mailbox watched for important email.
// Empty credentials fall back to the email channel's.
type InboxConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"imap_host"`
	Port         int           `yaml:"imap_port"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Mailbox      string        `yaml:"mailbox"`
	Lookback     time.Duration `yaml:"lookback"`
	MaxMessages  int           `yaml:"max_messages"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func defaults() *Config {
	return &Config{
		TimezoneName:         "Local",
		TasksFile:            "./data/tasks.json",
		DatabasePath:         "./data/nikassistant.db",
		ServerPort:           "8501",
		AllowedOrigins:       []string{"http://localhost:8501"},
		DailySummaryTime:     "09:00",
		OverdueSweepInterval: time.Hour,
		SendTimeout:          30 * time.Second,
		Desktop: DesktopConfig{
			Enabled: true,
			AppName: "NikAssistant",
		},
		Email: EmailConfig{
			Enabled: true,
			Host:    "smtp.gmail.com",
			Port:    587,
		},
		Mobile: MobileConfig{
			Enabled: true,
		},
		Calendar: CalendarConfig{
			LeadTime:     15 * time.Minute,
			PollInterval: time.Minute,
		},
		Inbox: InboxConfig{
			Enabled:      true,
			Host:         "imap.gmail.com",
			Port:         993,
			Mailbox:      "INBOX",
			Lookback:     7 * 24 * time.Hour,
			MaxMessages:  20,
			PollInterval: 30 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the optional YAML file at
// path (falls back to ASSISTANT_CONFIG), then environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("ASSISTANT_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.TimezoneName = getEnv("TIMEZONE", c.TimezoneName)
	c.TasksFile = getEnv("TASKS_FILE", c.TasksFile)
	c.DatabasePath = getEnv("DATABASE_PATH", c.DatabasePath)
	c.ServerPort = getEnv("APP_PORT", c.ServerPort)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.DailySummaryTime = getEnv("DAILY_SUMMARY_TIME", c.DailySummaryTime)

	var err error
	if c.OverdueSweepInterval, err = getEnvDuration("OVERDUE_SWEEP_INTERVAL", c.OverdueSweepInterval); err != nil {
		return err
	}
	if c.SendTimeout, err = getEnvDuration("SEND_TIMEOUT", c.SendTimeout); err != nil {
		return err
	}

	c.Desktop.Enabled = getEnvBool("DESKTOP_ENABLED", c.Desktop.Enabled)
	c.Desktop.AppName = getEnv("DESKTOP_APP_NAME", c.Desktop.AppName)
	c.Desktop.IconPath = getEnv("DESKTOP_ICON", c.Desktop.IconPath)

	c.Email.Enabled = getEnvBool("EMAIL_ENABLED", c.Email.Enabled)
	c.Email.Host = getEnv("SMTP_HOST", c.Email.Host)
	c.Email.Port = getEnvInt("SMTP_PORT", c.Email.Port)
	c.Email.Username = getEnv("EMAIL_USER", c.Email.Username)
	c.Email.Password = getEnv("EMAIL_PASS", c.Email.Password)
	c.Email.From = getEnv("EMAIL_FROM", c.Email.From)
	c.Email.To = getEnv("EMAIL_TO", c.Email.To)
	c.Email.AllowInsecure = getEnvBool("SMTP_ALLOW_INSECURE", c.Email.AllowInsecure)

	c.Mobile.Enabled = getEnvBool("MOBILE_ENABLED", c.Mobile.Enabled)
	c.Mobile.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Mobile.TelegramToken)
	c.Mobile.Topic = getEnv("MOBILE_TOPIC", c.Mobile.Topic)

	c.Calendar.URL = getEnv("CALDAV_URL", c.Calendar.URL)
	c.Calendar.Username = getEnv("CALDAV_USERNAME", c.Calendar.Username)
	c.Calendar.Password = getEnv("CALDAV_PASSWORD", c.Calendar.Password)
	c.Calendar.CalendarPath = getEnv("CALDAV_CALENDAR", c.Calendar.CalendarPath)
	if c.Calendar.LeadTime, err = getEnvDuration("MEETING_REMINDER_LEAD", c.Calendar.LeadTime); err != nil {
		return err
	}
	if c.Calendar.PollInterval, err = getEnvDuration("CALENDAR_POLL_INTERVAL", c.Calendar.PollInterval); err != nil {
		return err
	}

	c.Inbox.Enabled = getEnvBool("IMAP_ENABLED", c.Inbox.Enabled)
	c.Inbox.Host = getEnv("IMAP_HOST", c.Inbox.Host)
	c.Inbox.Port = getEnvInt("IMAP_PORT", c.Inbox.Port)
	c.Inbox.Username = getEnv("IMAP_USER", c.Inbox.Username)
	c.Inbox.Password = getEnv("IMAP_PASS", c.Inbox.Password)
	c.Inbox.Mailbox = getEnv("IMAP_MAILBOX", c.Inbox.Mailbox)
	c.Inbox.MaxMessages = getEnvInt("INBOX_MAX_MESSAGES", c.Inbox.MaxMessages)
	if c.Inbox.Lookback, err = getEnvDuration("INBOX_LOOKBACK", c.Inbox.Lookback); err != nil {
		return err
	}
	if c.Inbox.PollInterval, err = getEnvDuration("INBOX_POLL_INTERVAL", c.Inbox.PollInterval); err != nil {
		return err
	}
	if c.Inbox.Username == "" {
		c.Inbox.Username = c.Email.Username
	}
	if c.Inbox.Password == "" {
		c.Inbox.Password = c.Email.Password
	}
	return nil
}

func (c *Config) validate() error {
	tz, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Timezone = tz

	if _, _, err := c.SummaryClock(); err != nil {
		return err
	}
	if c.OverdueSweepInterval <= 0 {
		return fmt.Errorf("OVERDUE_SWEEP_INTERVAL must be positive")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive")
	}
	if c.Calendar.LeadTime <= 0 || c.Calendar.PollInterval <= 0 {
		return fmt.Errorf("calendar lead time and poll interval must be positive")
	}
	if c.Inbox.Lookback <= 0 || c.Inbox.PollInterval <= 0 || c.Inbox.MaxMessages <= 0 {
		return fmt.Errorf("inbox lookback, poll interval and max messages must be positive")
	}
	return nil
}

// SummaryClock returns the hour and minute of the daily summary.
func (c *Config) SummaryClock() (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(c.DailySummaryTime), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid DAILY_SUMMARY_TIME %q: want HH:MM", c.DailySummaryTime)
	}
	hour, herr := strconv.Atoi(parts[0])
	minute, merr := strconv.Atoi(parts[1])
	if herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid DAILY_SUMMARY_TIME %q: want HH:MM", c.DailySummaryTime)
	}
	return hour, minute, nil
}

// EmailChannelEnabled reports whether email is switched on and has credentials.
func (c *Config) EmailChannelEnabled() bool {
	return c.Email.Enabled && c.Email.Username != "" && c.Email.Password != ""
}

// MobileChannelEnabled reports whether mobile push is switched on and has a token.
func (c *Config) MobileChannelEnabled() bool {
	return c.Mobile.Enabled && c.Mobile.TelegramToken != ""
}

// CalendarEnabled reports whether CalDAV credentials are set.
func (c *Config) CalendarEnabled() bool {
	return c.Calendar.Username != "" && c.Calendar.Password != ""
}

// InboxEnabled reports whether the IMAP inbox is switched on and has credentials.
func (c *Config) InboxEnabled() bool {
	return c.Inbox.Enabled && c.Inbox.Username != "" && c.Inbox.Password != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
