package cmd

import (
	"os"

	"github.com/locdata/locharvest/pkg/harvest"
	"github.com/locdata/locharvest/pkg/search"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// searchCmd implements: locharvest search <url>
var searchCmd = &cobra.Command{
	Use:   "search <loc.gov search url>",
	Short: "Collect the results of a loc.gov search, and optionally their items",
	Example: `  locharvest search "https://www.loc.gov/maps/?q=ohio" -n 50
  locharvest search "https://www.loc.gov/collections/civil-war-maps/" --items --db`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		perPage, _ := cmd.Flags().GetInt("per-page")
		keepAll, _ := cmd.Flags().GetBool("keep-all")
		items, _ := cmd.Flags().GetBool("items")
		yes, _ := cmd.Flags().GetBool("yes")

		cfg := harvestConfig(cmd)
		opts := search.DefaultOptions()
		opts.Cap = count
		opts.PageSize = viper.GetInt("per_page")
		if perPage > 0 {
			opts.PageSize = perPage
		}
		opts.Buffer = viper.GetInt("buffer")
		opts.OnlyItems = !keepAll
		if yes {
			opts.Confirm = func(int) bool { return true }
		} else {
			opts.Confirm = confirmLarge(os.Stdin, os.Stderr)
		}
		cfg.Search = opts

		res, err := harvest.Run(cmd.Context(), cfg, harvest.Input{SearchURL: args[0], GetItems: items})
		if res == nil {
			return err
		}
		if werr := finishRun(cmd, res); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntP("count", "n", 0, "Keep only the first N results (0 = all)")
	searchCmd.Flags().Int("per-page", 0, "Results per page (default: per_page from the config file)")
	searchCmd.Flags().Bool("keep-all", false, "Keep results that are neither items nor resources")
	searchCmd.Flags().Bool("items", false, "Download the item records of the results and split them into tables")
	searchCmd.Flags().BoolP("yes", "y", false, "Do not ask before harvesting searches above the loc.gov result limit")
	addRunFlags(searchCmd)
}
