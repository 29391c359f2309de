package constants

import "time"

const (
	AppName            = "wayfare"
	DefaultKeyringUser = "database-connection"
	APIKeyKeyringUser  = "recommender-api-key"
	DefaultConfigPath  = "~/.config/wayfare/wayfare.db"
	DefaultConfigFile  = "~/.config/wayfare/config.yaml"
	Version            = "v0.3.0"

	// DateFormat is the standard date format used throughout the application (YYYY-MM-DD)
	DateFormat = "2006-01-02"

	// TimeFormat is the standard time format used throughout the application (HH:MM)
	TimeFormat = "15:04"

	// Backup constants
	MaxBackups       = 14
	BackupDirName    = "backups"
	BackupFilePrefix = "wayfare-"
	BackupFileSuffix = ".db"

	// Notify constants
	NotifyMaxRetries       = 3
	NotifyRetryDelay       = 100 * time.Millisecond
	NotifierLockfileName   = "wayfare-notifier.lock"
	NotificationDurationMs = 8000
	TrayAppIdentifier      = "com.julianstephens.wayfare"
	TrayProcessPrefix      = "wayfare-tray"

	// Environment variables
	EnvAPIKey         = "WAYFARE_OPENAI_API_KEY"
	EnvAPIKeyFallback = "OPENAI_API_KEY"
	EnvDBConnection   = "WAYFARE_DB_CONNECTION"
	EnvConfigFile     = "WAYFARE_CONFIG"
	EnvDebug          = "WAYFARE_DEBUG"
)
