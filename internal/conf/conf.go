package conf

import "time"

// Bootstrap is the root configuration of OrderRelay.
type Bootstrap struct {
	Server         *Server
	Data           *Data
	Log            *Log
	Upstream       *Upstream
	Polling        *Polling
	Acknowledgment *Acknowledgment
	Retry          *Retry
	Breaker        *Breaker
	RateLimit      *RateLimit
	Compliance     *Compliance
	Cache          *Cache
	Dedup          *Dedup
}

type Server struct {
	Http *Server_HTTP
}

type Server_HTTP struct {
	Network string
	Addr    string
	Timeout time.Duration
	// AdminToken 为空时控制接口不做鉴权
	AdminToken string
}

type Data struct {
	Database    *Data_Database
	Redis       *Data_Redis
	Credentials *Data_Credentials
}

type Data_Database struct {
	// Driver: mysql | postgres | sqlite
	Driver      string
	Source      string
	AutoMigrate bool
}

type Data_Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Data_Credentials struct {
	// EncryptionKey 非空时 access token 以 AES-256-GCM 密文存储
	EncryptionKey string
}

type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Upstream describes the order platform event API.
type Upstream struct {
	BaseURL    string
	EventTypes []string
	Categories string
	ProxyURL   string
	UserAgent  string
}

type Polling struct {
	Interval           time.Duration
	Tolerance          time.Duration
	Timeout            time.Duration
	MaxEventsPerPoll   int
	ErrorCeiling       int
	DriftCorrectionCap time.Duration
	TimingSamples      int
}

type Acknowledgment struct {
	BatchSize          int
	MaxAttempts        int
	Timeout            time.Duration
	MaxPendingPerCycle int
}

type Retry struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

type Breaker struct {
	Threshold int
	Timeout   time.Duration
}

type RateLimit struct {
	MaxPerWindow int
	Window       time.Duration
	// Backend: redis | memory
	Backend string
}

type Compliance struct {
	AckRateWindow     time.Duration
	MinTimingAccuracy float64
	AlertCooldown     time.Duration
	AlertRetention    time.Duration
	MemorySamples     int
	MemoryLeakMB      float64
	SlowResponse      time.Duration
}

type Cache struct {
	CredentialTTL time.Duration
	MerchantTTL   time.Duration
	MaxEntries    int
}

type Dedup struct {
	MaxPerSession int
	EvictFraction float64
}
