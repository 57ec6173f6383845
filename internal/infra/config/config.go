package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL string `yaml:"databaseURL" envconfig:"DATABASE_URL"`
	LogLevel    string `yaml:"logLevel"    envconfig:"LOG_LEVEL"`
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`

	BillDaysBeforeCycle int  `yaml:"billDaysBeforeCycle" envconfig:"BILL_DAYS_BEFORE_CYCLE"`
	BillDaysToDue       int  `yaml:"billDaysToDue"       envconfig:"BILL_DAYS_TO_DUE"`
	ReminderGraceDays   int  `yaml:"reminderGraceDays"   envconfig:"REMINDER_GRACE_DAYS"`
	EnableReminders     bool `yaml:"enableReminders"     envconfig:"ENABLE_REMINDERS"`
	CycleLengthMonths   int  `yaml:"cycleLengthMonths"   envconfig:"CYCLE_LENGTH_MONTHS"`

	IBANAccountNumber string `yaml:"ibanAccountNumber" envconfig:"IBAN_ACCOUNT_NUMBER"`
	BICCode           string `yaml:"bicCode"           envconfig:"BIC_CODE"`
	BillingFromEmail  string `yaml:"billingFromEmail"  envconfig:"BILLING_FROM_EMAIL"`
	BillingCCEmail    string `yaml:"billingCCEmail"    envconfig:"BILLING_CC_EMAIL"`
	BillSubject       string `yaml:"billSubject"       envconfig:"BILL_SUBJECT"`
	ReminderSubject   string `yaml:"reminderSubject"   envconfig:"REMINDER_SUBJECT"`

	EmailMboxFilePath string `yaml:"emailMboxFilePath" envconfig:"EMAIL_MBOX_FILE_PATH"`
	SMTPHost          string `yaml:"smtpHost"          envconfig:"SMTP_HOST"`
	SMTPPort          int    `yaml:"smtpPort"          envconfig:"SMTP_PORT"`
	SMTPUsername      string `yaml:"smtpUsername"      envconfig:"SMTP_USERNAME"`
	SMTPPassword      string `yaml:"smtpPassword"      envconfig:"SMTP_PASSWORD"`
	MailRatePerMinute int    `yaml:"mailRatePerMinute" envconfig:"MAIL_RATE_PER_MINUTE"`

	CronSpecBilling string        `yaml:"cronSpecBilling" envconfig:"CRON_SPEC_BILLING"`
	RunTimeout      time.Duration `yaml:"runTimeout"      envconfig:"RUN_TIMEOUT"`
	HTTPAddr        string        `yaml:"httpAddr"        envconfig:"HTTP_ADDR"`
	// HTTPRunToken guards POST /runs. Empty disables manual runs over HTTP.
	HTTPRunToken string `yaml:"httpRunToken" envconfig:"HTTP_RUN_TOKEN"`

	TelegramToken   string `yaml:"telegramToken"   envconfig:"TELEGRAM_TOKEN"`
	AdminTelegramID int64  `yaml:"adminTelegramID" envconfig:"ADMIN_TELEGRAM_ID"`

	OTLPEndpoint string `yaml:"otlpEndpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	CSVEncoding  string `yaml:"csvEncoding"  envconfig:"CSV_ENCODING"`
}

// Default returns the configuration used when nothing overrides a value.
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:            "info",
		Environment:         "development",
		BillDaysBeforeCycle: 30,
		BillDaysToDue:       14,
		ReminderGraceDays:   14,
		CycleLengthMonths:   12,
		BillSubject:         "Membership fee {{.CycleStart.Year}}",
		ReminderSubject:     "Reminder: membership fee {{.CycleStart.Year}}",
		SMTPPort:            25,
		MailRatePerMinute:   60,
		CronSpecBilling:     "0 6 * * *", // 06:00 daily
		RunTimeout:          30 * time.Minute,
		HTTPAddr:            ":8080",
		CSVEncoding:         "iso-8859-1",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, a .env file (if present) and the environment, in that order.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or out-of-range value at once.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.IBANAccountNumber == "" {
		errs = append(errs, errors.New("IBAN_ACCOUNT_NUMBER is not set"))
	}
	if c.BICCode == "" {
		errs = append(errs, errors.New("BIC_CODE is not set"))
	}
	if c.BillingFromEmail == "" {
		errs = append(errs, errors.New("BILLING_FROM_EMAIL is not set"))
	}
	if c.BillDaysBeforeCycle < 0 {
		errs = append(errs, fmt.Errorf("BILL_DAYS_BEFORE_CYCLE must not be negative, got %d", c.BillDaysBeforeCycle))
	}
	if c.BillDaysToDue <= 0 {
		errs = append(errs, fmt.Errorf("BILL_DAYS_TO_DUE must be positive, got %d", c.BillDaysToDue))
	}
	if c.ReminderGraceDays < 0 {
		errs = append(errs, fmt.Errorf("REMINDER_GRACE_DAYS must not be negative, got %d", c.ReminderGraceDays))
	}
	// Reference numbers encode the start year, so two cycles of one
	// membership must never start in the same year.
	if c.CycleLengthMonths < 12 {
		errs = append(errs, fmt.Errorf("CYCLE_LENGTH_MONTHS must be at least 12, got %d", c.CycleLengthMonths))
	}
	if c.MailRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("MAIL_RATE_PER_MINUTE must be positive, got %d", c.MailRatePerMinute))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RUN_TIMEOUT must be positive, got %s", c.RunTimeout))
	}
	return errors.Join(errs...)
}
