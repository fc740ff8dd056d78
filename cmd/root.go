// root.go viper root command code
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/rtvc/cmd/stream"
	"github.com/tphakala/rtvc/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rtvc",
		Short: "rtvc real-time voice conversion CLI",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		log.Printf("error setting up flags: %v\n", err)
	}

	streamCmd := stream.Command(settings)

	rootCmd.AddCommand(streamCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Conversion.Backend, "backend", viper.GetString("conversion.backend"), "Conversion backend: streaming_backend or batch_adapter")
	rootCmd.PersistentFlags().IntVar(&settings.Conversion.ChunkSize, "chunk-size", viper.GetInt("conversion.chunk_size"), "Conversion chunk size in samples")
	rootCmd.PersistentFlags().IntVar(&settings.Conversion.PitchShift, "pitch-shift", viper.GetInt("conversion.pitch_shift"), "Pitch shift in semitones, -24 to 24")
	rootCmd.PersistentFlags().Float64Var(&settings.Conversion.IndexRate, "index-rate", viper.GetFloat64("conversion.index_rate"), "Index rate between 0.0 and 1.0")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
