package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool
var randomSeed int64

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "snel",
	Short: "Sequential Neural Likelihood estimation",
	Long: `snel trains a conditional density model as an approximate
likelihood for a stochastic simulator. Each round draws parameters (from the
prior on round 0, from the posterior approximation afterwards), simulates,
appends to the accumulated dataset, and retrains the model with early
stopping.

The run subcommand executes a self-contained demonstration against a toy
affine simulator.
`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("snel\n")
		fmt.Printf("Verbose:  %v\n", verbose)
		fmt.Printf("Rnd Seed: %d\n", randomSeed)
		fmt.Printf("Use the run subcommand to execute a sequential run\n")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging (default is much more parsimonious)")
	rootCmd.PersistentFlags().Int64VarP(&randomSeed, "seed", "r", 1, "Random seed to use")

	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
