package cmd

import (
	"fmt"

	"github.com/locdata/locharvest/internal/utils"
	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/harvest"
	"github.com/locdata/locharvest/pkg/storage"
	"github.com/spf13/cobra"
)

// itemsCmd implements: locharvest items [ids...]
var itemsCmd = &cobra.Command{
	Use:   "items [item or resource ids...]",
	Short: "Download item records and split them into item, resource and file tables",
	Example: `  locharvest items 2004629172 https://www.loc.gov/item/sn83045462/
  locharvest items --resources "https://www.loc.gov/resource/g3701p.rr002300/?sp=2"
  locharvest items --csv search.csv --alto`,
	RunE: func(cmd *cobra.Command, args []string) error {
		csvPath, _ := cmd.Flags().GetString("csv")
		resources, _ := cmd.Flags().GetBool("resources")

		seeds := seedsFromArgs(args, resources)
		if csvPath != "" {
			fromCSV, err := storage.LoadSeeds(csvPath)
			if err != nil {
				return err
			}
			utils.Log.Infof("Loaded %d ids from %s", len(fromCSV), csvPath)
			seeds = append(seeds, fromCSV...)
		}
		if len(seeds) == 0 {
			return fmt.Errorf("no ids given. Pass ids as arguments or use --csv")
		}

		res, err := harvest.Run(cmd.Context(), harvestConfig(cmd), harvest.Input{Seeds: seeds})
		if res == nil {
			return err
		}
		if werr := finishRun(cmd, res); werr != nil {
			return werr
		}
		return err
	},
}

func seedsFromArgs(args []string, resources bool) []decompose.Seed {
	seeds := make([]decompose.Seed, 0, len(args))
	for _, a := range args {
		if resources {
			seeds = append(seeds, decompose.Seed{ResourceID: a})
		} else {
			seeds = append(seeds, decompose.Seed{ItemID: a})
		}
	}
	return seeds
}

func init() {
	rootCmd.AddCommand(itemsCmd)

	itemsCmd.Flags().String("csv", "", "CSV file with an item_id or resource_id column")
	itemsCmd.Flags().Bool("resources", false, "Treat the arguments as resource ids and look up their items first")
	addRunFlags(itemsCmd)
}
