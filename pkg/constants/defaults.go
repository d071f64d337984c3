package constants

import "time"

// Service defaults, overridable through the environment
const (
	DefaultPort               = "3001"
	DefaultCRMAccountsURL     = "https://accounts.zoho.com"
	DefaultCRMAPIVersion      = "v2"
	DefaultCRMAuthScheme      = "Zoho-oauthtoken"
	DefaultDocsAPIURL         = "https://www.zohoapis.com/workdrive"
	DefaultUploadDir          = "uploads"
	DefaultMaxUploadBytes     = 10 << 20
	DefaultMaxAttachments     = 5
	DefaultDeliveryInterval   = 5 * time.Second
	DefaultDeliveryBatch      = 20
	DefaultMaxDeliveryAttempt = 5
	DefaultRetryBackoff       = 30 * time.Second
	MaxRetryBackoff           = 30 * time.Minute
	DefaultCleanupSchedule    = "0 3 * * *"
	DefaultRetention          = 30 * 24 * time.Hour
	DefaultMinFillDuration    = 3 * time.Second
	DefaultTokenEarlyExpiry   = 60 * time.Second
	DefaultAdminTokenTTL      = 12 * time.Hour
)
