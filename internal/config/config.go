package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/bubble-merge-backend/internal/engine"
)

const envPrefix = "BUBBLE"

type Config struct {
	Bind           string
	Port           int
	PublicURL      string
	OriginPatterns []string
	DatabaseDSN    string
	Tick           time.Duration
	Policy         string
	Verbose        bool

	AIBaseURL string
	AIAPIKey  string
	AIModel   string

	RulesFile string
	Rules     engine.Rules
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

func (c *Config) ElectionPolicy() engine.ElectionPolicy {
	return engine.ElectionPolicy(c.Policy)
}

// AIEnabled reports whether puzzle generation has an endpoint to call.
func (c *Config) AIEnabled() bool {
	return c.AIBaseURL != "" && c.AIModel != ""
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.Tick <= 0 {
		return fmt.Errorf("invalid tick (must be positive): %s", c.Tick)
	}
	if !c.ElectionPolicy().Valid() {
		return fmt.Errorf("invalid election policy %q (want %q or %q)",
			c.Policy, engine.PolicyHostPriority, engine.PolicyLowestID)
	}
	return ValidateRules(c.Rules)
}

// ValidateRules rejects tunables no round could be played with.
func ValidateRules(r engine.Rules) error {
	var errs []error
	if r.InitialCorrectCount < 1 || r.InitialIncorrectCount < 0 {
		errs = append(errs, errors.New("initial bubble counts must be at least 1 correct and 0 incorrect"))
	}
	if r.CorrectIncrement < 0 || r.IncorrectIncrement < 0 {
		errs = append(errs, errors.New("bubble increments must not be negative"))
	}
	if r.MaxBubblesTotal < r.InitialCorrectCount+r.InitialIncorrectCount {
		errs = append(errs, fmt.Errorf("max_bubbles_total %d is below the initial round size %d",
			r.MaxBubblesTotal, r.InitialCorrectCount+r.InitialIncorrectCount))
	}
	if r.PointsPerSecond < 0 || r.IncorrectPenalty < 0 {
		errs = append(errs, errors.New("points and penalties must not be negative"))
	}
	if r.TimePerRoundSeconds < 1 {
		errs = append(errs, errors.New("time_per_round_seconds must be positive"))
	}
	if r.CountdownMs < 0 {
		errs = append(errs, errors.New("countdown_ms must not be negative"))
	}
	if r.MinRounds < 1 || r.MaxRounds < r.MinRounds {
		errs = append(errs, fmt.Errorf("round limits [%d,%d] are invalid", r.MinRounds, r.MaxRounds))
	}
	if r.DefaultTotalRounds < r.MinRounds || r.DefaultTotalRounds > r.MaxRounds {
		errs = append(errs, fmt.Errorf("default_total_rounds %d is outside [%d,%d]",
			r.DefaultTotalRounds, r.MinRounds, r.MaxRounds))
	}
	return errors.Join(errs...)
}

// LoadRules overlays the YAML file at path on the default tunables.
func LoadRules(path string) (engine.Rules, error) {
	rules := engine.DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, fmt.Errorf("read rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rules, nil
}

// LoadDotEnv reads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// NewCommand builds the root command. run receives a validated Config.
func NewCommand(version string, run func(cmd *cobra.Command, cfg *Config) error) *cobra.Command {
	cfg := &Config{}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "bubble-merge",
		Short:         "Round coordinator for the Bubble Merge party game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := LoadRules(cfg.RulesFile)
			if err != nil {
				return err
			}
			cfg.Rules = rules
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd, cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: BUBBLE_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: BUBBLE_PORT)")
	fs.StringVar(&cfg.PublicURL, "public-url", "", "base URL encoded in join QR codes (env: BUBBLE_PUBLIC_URL)")
	fs.StringSliceVar(&cfg.OriginPatterns, "allowed-origins", nil, "extra websocket origin patterns, e.g. localhost:* (env: BUBBLE_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", "", "postgres DSN for the results ledger; in-memory when empty (env: BUBBLE_DATABASE_DSN)")
	fs.DurationVar(&cfg.Tick, "tick", time.Second, "controller evaluation interval (env: BUBBLE_TICK)")
	fs.StringVar(&cfg.Policy, "election-policy", string(engine.PolicyHostPriority), "controller election policy: host-priority or lowest-id (env: BUBBLE_ELECTION_POLICY)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: BUBBLE_VERBOSE)")
	fs.StringVar(&cfg.AIBaseURL, "ai-base-url", "", "OpenAI-compatible API base URL for puzzle generation (env: BUBBLE_AI_BASE_URL)")
	fs.StringVar(&cfg.AIAPIKey, "ai-api-key", "", "API key for puzzle generation (env: BUBBLE_AI_API_KEY)")
	fs.StringVar(&cfg.AIModel, "ai-model", "", "model used for puzzle generation (env: BUBBLE_AI_MODEL)")
	fs.StringVar(&cfg.RulesFile, "rules", "", "YAML file overriding game tunables (env: BUBBLE_RULES)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("bubble-merge v{{.Version}}\n")

	return cmd
}
