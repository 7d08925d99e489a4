package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/locdata/locharvest/internal/utils"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/flatten"
	"github.com/locdata/locharvest/pkg/fulltext"
	"github.com/locdata/locharvest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// altoCmd implements: locharvest alto <url>...
var altoCmd = &cobra.Command{
	Use:   "alto <alto xml url>...",
	Short: "Extract the words of ALTO XML files, one row per word",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := fetch.New(fetchConfig(cmd), fetch.WithLogger(utils.Log))
		if err != nil {
			return err
		}

		words, failures := fulltext.NewExtractor(engine, utils.Log).Words(cmd.Context(), fetch.NewBreaker(), args)

		dir := filepath.Join(viper.GetString("output_dir"), runName(cmd, time.Now()))
		recs := make([]*flatten.Record, 0, len(words))
		for _, w := range words {
			recs = append(recs, w.Record())
		}
		if err := storage.WriteCSV(filepath.Join(dir, "alto_words.csv"), recs); err != nil {
			return err
		}
		if len(failures) > 0 {
			if err := storage.WriteErrors(filepath.Join(dir, "errors.json"), map[string][]fulltext.Failure{"alto": failures}); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d words from %d files (%d failed)\n  output: %s\n", len(words), len(args), len(failures), dir)
		return cmd.Context().Err()
	},
}

func init() {
	rootCmd.AddCommand(altoCmd)
	altoCmd.Flags().String("name", "", "Output directory name (default: output_prefix or a timestamp)")
}
