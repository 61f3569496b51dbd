package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	AWS       AWSConfig
	Email     EmailConfig
	Workspace WorkspaceConfig
}

// EmailConfig for SMTP delivery of invitation emails.
type EmailConfig struct {
	FromAddress   string
	FromName      string
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	InviteBaseURL string // accept link prefix; the invitation id is appended
}

// Enabled reports whether an SMTP host is configured.
func (c EmailConfig) Enabled() bool { return c.SMTPHost != "" }

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	AdminAPIKey        string // X-Server-Key for server-only routes; empty disables them
	Production         bool   // secure cookies
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/ledgerly?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds session token signing settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
	CookieName  string
}

// AWSConfig holds AWS credentials and the logo bucket.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	LogoBucket      string
	MaxLogoBytes    int64
}

// WorkspaceConfig tunes workspace tenancy behaviour.
type WorkspaceConfig struct {
	CreatorRole                        string
	InvitationExpiresIn                time.Duration
	MembershipLimit                    int
	InvitationLimit                    int
	AllowUserToCreateWorkspace         bool
	CancelPendingInvitationsOnReInvite bool
	CustomRoles                        string // role:resource=action|action;resource=action,role2:...
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	expiresIn, err := time.ParseDuration(getEnv("WORKSPACE_INVITATION_EXPIRES_IN", "48h"))
	if err != nil {
		return nil, fmt.Errorf("WORKSPACE_INVITATION_EXPIRES_IN: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			AdminAPIKey:        getEnv("SERVER_API_KEY", ""),
			Production:         getEnvBool("PRODUCTION", false),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "ledgerly"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24*7),
			CookieName:  getEnv("SESSION_COOKIE_NAME", "ledgerly_session"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			LogoBucket:      getEnv("AWS_S3_LOGO_BUCKET", ""),
			MaxLogoBytes:    int64(getEnvInt("AWS_MAX_LOGO_BYTES", 2*1024*1024)),
		},
		Email: EmailConfig{
			FromAddress:   getEnv("EMAIL_FROM_ADDRESS", "noreply@example.com"),
			FromName:      getEnv("EMAIL_FROM_NAME", "Ledgerly"),
			SMTPHost:      getEnv("SMTP_HOST", ""),
			SMTPPort:      getEnvInt("SMTP_PORT", 587),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPass:      getEnv("SMTP_PASS", ""),
			InviteBaseURL: getEnv("INVITE_BASE_URL", "http://localhost:3000/accept-invitation/"),
		},
		Workspace: WorkspaceConfig{
			CreatorRole:                        getEnv("WORKSPACE_CREATOR_ROLE", "owner"),
			InvitationExpiresIn:                expiresIn,
			MembershipLimit:                    getEnvInt("WORKSPACE_MEMBERSHIP_LIMIT", 100),
			InvitationLimit:                    getEnvInt("WORKSPACE_INVITATION_LIMIT", 100),
			AllowUserToCreateWorkspace:         getEnvBool("WORKSPACE_ALLOW_USER_CREATE", true),
			CancelPendingInvitationsOnReInvite: getEnvBool("WORKSPACE_CANCEL_PENDING_ON_REINVITE", false),
			CustomRoles:                        getEnv("WORKSPACE_CUSTOM_ROLES", ""),
		},
	}
	return cfg, nil
}

// CORSOrigins splits CORSAllowedOrigins.
func (c ServerConfig) CORSOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
