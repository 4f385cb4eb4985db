package config

// Config is the top-level structure parsed from repairloop YAML.
type Config struct {
	Repairloop Repairloop `yaml:"repairloop"`
}

// Repairloop holds every setting the CLI consumes.
type Repairloop struct {
	AuditLog string         `yaml:"audit_log"`
	Workdir  string         `yaml:"workdir"`
	Python   string         `yaml:"python"`
	Node     string         `yaml:"node"`
	TSC      string         `yaml:"tsc"`
	UseTSC   bool           `yaml:"use_tsc"`
	Verifier VerifierConfig `yaml:"verifier"`
	Proposer ProposerConfig `yaml:"proposer"`
	Index    IndexConfig    `yaml:"index"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// VerifierConfig bounds the verification subprocesses. Timeouts are Go
// duration strings.
type VerifierConfig struct {
	PyTimeout   string `yaml:"py_timeout"`
	TSTimeout   string `yaml:"ts_timeout"`
	TSCTimeout  string `yaml:"tsc_timeout"`
	MaxOutputKB int    `yaml:"max_output_kb"`
}

// ProposerConfig selects and limits the external proposer.
type ProposerConfig struct {
	Enabled                    bool     `yaml:"enabled"`
	Kind                       string   `yaml:"kind"`
	Command                    string   `yaml:"command"`
	Model                      string   `yaml:"model"`
	TemplateDir                string   `yaml:"template_dir"`
	PolicyFile                 string   `yaml:"policy_file"`
	AllowedLanguages           []string `yaml:"allowed_languages"`
	MaxCallsPerTask            int      `yaml:"max_calls_per_task"`
	MaxCallsPerDay             int      `yaml:"max_calls_per_day"`
	MaxTotalSecondsPerDay      float64  `yaml:"max_total_seconds_per_day"`
	OnlyForUncoveredSignatures *bool    `yaml:"only_for_uncovered_signatures"`
	UncoveredSource            string   `yaml:"uncovered_source"`
	Timeout                    string   `yaml:"timeout"`
	BudgetStore                string   `yaml:"budget_store"`
	PostgresDSN                string   `yaml:"postgres_dsn"`
}

// IndexConfig controls the SQLite mirror of the audit log.
type IndexConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Development bool   `yaml:"development"`
}

// Proposer kinds.
const (
	KindCommand   = "command"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
)

// Budget store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)
