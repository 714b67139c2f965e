package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"southwinds.dev/locker"
	"southwinds.dev/locker/audit"
	"southwinds.dev/locker/persist"
)

var (
	cfgFile     string
	storePath   string
	engine      *locker.Engine
	auditLogger audit.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lockerctl",
	Short: "Inspect and manage a secure credential store",
	Long: `lockerctl operates on a secure credential and session store.
Stored values are sealed with AES-256-GCM under a versioned master key;
lockerctl can report the store's health, rotate the master key, query the
audit trail and move encrypted exports between devices.`,
	PersistentPreRunE: initializeEngine,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if engine != nil {
			return engine.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lockerctl.yaml)")
	flags.StringVarP(&storePath, "store-path", "p", "", "path to the store directory")
	flags.String("store-type", "", "storage backend type (filesystem, redis, s3, keychain)")
	flags.String("mode", "", "operating mode (strict, compatibility)")

	bindFlagOrPanic(flags, "store.path", "store-path")
	bindFlagOrPanic(flags, "store.type", "store-type")
	bindFlagOrPanic(flags, "engine.mode", "mode")

	flags.Bool("audit", false, "enable audit logging")
	flags.String("audit-file", "", "audit log file path")

	bindFlagOrPanic(flags, "audit.enabled", "audit")
	bindFlagOrPanic(flags, "audit.options.file_path", "audit-file")

	flags.String("redis-addr", "", "redis address (host:port)")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database number")

	bindFlagOrPanic(flags, "store.redis.addr", "redis-addr")
	bindFlagOrPanic(flags, "store.redis.password", "redis-password")
	bindFlagOrPanic(flags, "store.redis.db", "redis-db")

	flags.String("s3-endpoint", "", "S3 endpoint URL")
	flags.String("s3-bucket", "", "S3 bucket name")
	flags.String("s3-prefix", "", "S3 key prefix")
	flags.String("s3-access-key", "", "S3 access key ID")
	flags.String("s3-secret-key", "", "S3 secret access key")
	flags.Bool("s3-use-ssl", true, "use SSL for S3 connections")

	bindFlagOrPanic(flags, "store.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic(flags, "store.s3.bucket", "s3-bucket")
	bindFlagOrPanic(flags, "store.s3.prefix", "s3-prefix")
	bindFlagOrPanic(flags, "store.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic(flags, "store.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic(flags, "store.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(flags *pflag.FlagSet, configKey, flagName string) {
	if err := viper.BindPFlag(configKey, flags.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".lockerctl")
	}

	viper.SetEnvPrefix("LOCKER")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Missing config file is fine, defaults and env vars apply.
	}
}

func setDefaults() {
	viper.SetDefault("store.path", ".locker")
	viper.SetDefault("store.type", string(persist.StoreTypeFileSystem))
	viper.SetDefault("engine.mode", "strict")

	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.s3.prefix", "locker/")
	viper.SetDefault("store.s3.use_ssl", true)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeEngine(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
		return nil
	}

	storePath = viper.GetString("store.path")

	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(storePath, "audit.log"))
	}

	store, err := createStore(viper.GetString("store.type"))
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	auditLogger, err = audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		Type:    audit.FileAuditType,
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	cfg := locker.DefaultConfig()
	switch viper.GetString("engine.mode") {
	case "strict", "":
		cfg.Mode = locker.ModeStrict
	case "compatibility":
		cfg.Mode = locker.ModeCompatibility
	default:
		return fmt.Errorf("unknown mode %q", viper.GetString("engine.mode"))
	}
	// The CLI runs headless, so the scheduled rotation timer stays off and
	// rotation happens via the rotate command.
	cfg.RotationInterval = -time.Second

	engine, err = locker.New(cfg, store, nil, auditLogger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	return nil
}

func createStore(storeType string) (persist.Store, error) {
	switch persist.StoreType(storeType) {
	case persist.StoreTypeFileSystem:
		return persist.NewStore(persist.StoreConfig{
			Type:   persist.StoreTypeFileSystem,
			Config: map[string]interface{}{"base_path": viper.GetString("store.path")},
		})
	case persist.StoreTypeRedis:
		return persist.NewStore(persist.StoreConfig{
			Type: persist.StoreTypeRedis,
			Config: map[string]interface{}{
				"addr":     viper.GetString("store.redis.addr"),
				"password": viper.GetString("store.redis.password"),
				"db":       viper.GetInt("store.redis.db"),
			},
		})
	case persist.StoreTypeS3:
		return persist.NewStore(persist.StoreConfig{
			Type: persist.StoreTypeS3,
			Config: map[string]interface{}{
				"endpoint":          viper.GetString("store.s3.endpoint"),
				"bucket":            viper.GetString("store.s3.bucket"),
				"key_prefix":        viper.GetString("store.s3.prefix"),
				"access_key_id":     viper.GetString("store.s3.access_key_id"),
				"secret_access_key": viper.GetString("store.s3.secret_access_key"),
				"use_ssl":           viper.GetBool("store.s3.use_ssl"),
			},
		})
	case persist.StoreTypeKeychain:
		return persist.NewStore(persist.StoreConfig{
			Type:   persist.StoreTypeKeychain,
			Config: map[string]interface{}{"service": "lockerctl"},
		})
	default:
		return nil, fmt.Errorf("unknown store type %q", storeType)
	}
}
