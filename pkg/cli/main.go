// Package cli builds the signalmax command tree: feed paging and live tail, subtree
// deletion and cascades, targeted push and the operational commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalmax/signalmax/pkg/config"
	"github.com/signalmax/signalmax/pkg/health"
	"github.com/signalmax/signalmax/pkg/observability/logger"
	"github.com/signalmax/signalmax/pkg/version"
)

const policiesAnnotationPrefix = "policies."

// CommandPolicy tells deploy tooling when a command may run.
type CommandPolicy string

const (
	PolicyAlways   CommandPolicy = "always"
	PolicyRun      CommandPolicy = "run"
	PolicyManual   CommandPolicy = "manual"
	PolicyOnDemand CommandPolicy = "on_demand"
)

const defaultPolicyContext = "run"

// ServiceCommandOptions configures the command tree.
type ServiceCommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	EnvPrefix   string

	// Optional: replaces store.Open (tests seed an in-memory store through it).
	OpenBackends BackendsFactory
	// Optional: replaces NewPushGateway.
	NewGateway GatewayFactory
	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

type rootFlags struct {
	configPath  string
	envPrefix   string
	secretFile  string
	metricsFile string
}

// NewServiceCommand creates the root command with version, config, healthcheck, feed,
// delete, cascade and push subcommands.
func NewServiceCommand(opts ServiceCommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "signalmax"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = config.DefaultEnvPrefix
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	flags := &rootFlags{}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config-file", "c", opts.ConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.envPrefix, "env-prefix", opts.EnvPrefix, "environment variable prefix")
	rootCmd.PersistentFlags().StringVar(&flags.secretFile, "secret-file", "", "path to secrets file (sets <PREFIX>_SECRETS_FILE)")
	rootCmd.PersistentFlags().StringVar(&flags.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	// withRuntime loads configuration, builds the runtime and always closes it.
	withRuntime := func(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
		cfg, log, err := LoadConfigAndLogger(flags.configPath, flags.envPrefix, flags.secretFile)
		if err != nil {
			return err
		}
		if flags.metricsFile != "" {
			cfg.Observability.MetricsFile = flags.metricsFile
		}
		ctx := withRunID(cmd.Context())
		log.WithContext(ctx).Debug("command started", "command", cmd.CommandPath())
		rt, err := NewRuntime(ctx, cfg, log, opts.OpenBackends, opts.NewGateway)
		if err != nil {
			return err
		}
		runErr := fn(ctx, rt)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if closeErr := rt.Close(closeCtx); closeErr != nil {
			log.Error("failed to close runtime", "error", closeErr)
		}
		return runErr
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Current(opts.Name)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
		},
	}
	SetCommandPolicies(versionCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newConfigCommand(flags))

	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to dependencies (database, cache, object storage, push gateway)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
				if _, err := rt.Gateway(); err != nil {
					return err
				}
				return printHealth(cmd, rt.Health.Check(ctx))
			})
		},
	}
	SetCommandPolicies(healthCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(healthCmd)

	rootCmd.AddCommand(newFeedCommand(withRuntime))
	rootCmd.AddCommand(newDeleteCommand(withRuntime))
	rootCmd.AddCommand(newCascadeCommand(withRuntime))
	rootCmd.AddCommand(newPushCommand(withRuntime))

	for _, custom := range opts.CustomCommands {
		ensureDefaultPolicy(custom)
		rootCmd.AddCommand(custom)
	}
	return rootCmd
}

func newConfigCommand(flags *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}
	SetCommandPolicies(configCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(flags.envPrefix, flags.secretFile); err != nil {
				return err
			}
			if _, err := config.NewViperLoader(flags.configPath, flags.envPrefix).Load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
			return nil
		},
	}
	SetCommandPolicies(validateCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applySecretFileFlag(flags.envPrefix, flags.secretFile); err != nil {
				return err
			}
			cfg, secrets, err := config.NewViperLoader(flags.configPath, flags.envPrefix).LoadWithSecrets()
			if err != nil {
				return err
			}
			out, err := formatSettings(cfg.Settings(secrets))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	SetCommandPolicies(showCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	configCmd.AddCommand(validateCmd, showCmd)
	return configCmd
}

// withRunID tags ctx with a fresh correlation id unless the caller already set one, so
// every log entry of one invocation can be grouped.
func withRunID(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger.CorrelationIDFromContext(ctx) != "" {
		return ctx
	}
	return logger.ContextWithCorrelationID(ctx, uuid.NewString())
}

func printHealth(cmd *cobra.Command, rep health.Report) error {
	out := cmd.OutOrStdout()
	for _, c := range rep.Checks {
		detail := c.Message
		if c.Error != "" {
			detail = c.Error
		}
		fmt.Fprintf(out, "%-8s %-10s %s (%s)\n", c.Name, c.Status, detail, c.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(out, "overall: %s\n", rep.Status)
	if rep.Status == health.StatusUnhealthy {
		return fmt.Errorf("dependencies unhealthy")
	}
	return nil
}

// SetCommandPolicies records policies as command annotations.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil || len(policies) == 0 {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	for ctx, policy := range policies {
		cmd.Annotations[policiesAnnotationPrefix+ctx] = string(policy)
	}
}

// GetCommandPolicies returns the policies recorded on cmd, keyed by context.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil {
		return out
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		out[strings.TrimPrefix(key, policiesAnnotationPrefix)] = cmd.Annotations[key]
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if _, ok := GetCommandPolicies(cmd)[defaultPolicyContext]; !ok {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyManual})
	}
	for _, child := range cmd.Commands() {
		ensureDefaultPolicy(child)
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigAndLogger loads and validates configuration and builds the zap logger.
func LoadConfigAndLogger(cfgPath, envPrefix, secretFilePath string) (*config.Config, logger.Logger, error) {
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, err
	}
	cfg, err := config.NewViperLoader(cfgPath, envPrefix).Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:   logger.LogLevel(cfg.Observability.LogLevel),
		Format:  logger.LogFormat(cfg.Observability.LogFormat),
		Service: cfg.Service.Name,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg)
	return cfg, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

func formatSettings(settings map[string]string) (string, error) {
	if len(settings) == 0 {
		return "{}\n", nil
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(data), nil
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg *config.Config) {
	if log == nil || cfg == nil {
		return
	}
	if !strings.EqualFold(cfg.Observability.LogLevel, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", cfg.String())
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return config.DefaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}
