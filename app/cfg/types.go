package cfg

import "time"

type Cfg struct {
	// SAM.gov API
	APIKey         string
	APIBaseURL     string
	SearchLimit    int
	HourlyCap      int
	DailyCap       int
	HTTPTimeout    time.Duration
	RequestsPerSec float64

	// Storage
	DataDir    string
	SQLitePath string
	FilesDir   string
	RulesDir   string

	// Sweep schedule
	HotFrequency   time.Duration
	WarmFrequency  time.Duration
	ColdFrequency  time.Duration
	AlertFrequency time.Duration
	WarmDays       int
	BackfillDays   int

	// HTTP surface
	Port         string
	BaseUrl      string
	APIAccessKey string

	// SMTP defaults for email destinations
	SMTPServer   string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPSender   string
	SMTPUseTLS   bool

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
