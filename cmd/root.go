package cmd

import (
	"fmt"
	"os"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VERSION is set during build
	VERSION string
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zipspy",
	Short: "CLI tool to list and extract files from zip archives on disk, in S3 or behind a URL",
	Long: `The zipspy CLI reads zip archives through ranged reads, so only the
	central directory and the requested entries are fetched.

	example:

		zipspy list -a archive.zip
		zipspy extract -b myBucket -k myKey -f plan.txt
		zipspy extract-all -u https://example.com/site.zip -d ./site`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		log.SetLevel(level)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(version string) {
	VERSION = version
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zipspy.yaml)")
	rootCmd.PersistentFlags().String("log-level", "warning", "log level (debug, info, warning, error)")
	rootCmd.PersistentFlags().Int("workers", 0, "number of entries extracted in parallel (default: number of CPUs)")
	rootCmd.PersistentFlags().String("region", "", "AWS region of the bucket (default: from the AWS configuration)")

	for _, name := range []string{"log-level", "workers", "region"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			log.Errorf("error locating home directory, err: %v", err)
			os.Exit(1)
		}

		// Search config in home directory with name ".zipspy" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".zipspy")
	}

	viper.SetEnvPrefix("zipspy")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	}
}
