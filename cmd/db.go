package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"text/tabwriter"

	"github.com/locdata/locharvest/internal/utils"
	"github.com/locdata/locharvest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the locharvest database",
}

// openDB opens the configured database, failing when it does not exist yet.
func openDB() (*storage.DB, error) {
	dbPath, err := utils.GetAbsDBPath(viper.GetString("dbpath"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", dbPath)
	}
	return storage.Open(dbPath)
}

// shellCmd represents the shell command
var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive shell to the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, err := utils.GetAbsDBPath(viper.GetString("dbpath"))
		if err != nil {
			return err
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("database file not found: %s", dbPath)
		}

		// Check if sqlite3 is in PATH
		sqlitePath, err := exec.LookPath("sqlite3")
		if err != nil {
			return fmt.Errorf("sqlite3 command not found in your PATH. Please install it to use the db shell")
		}

		// Print schema first
		fmt.Println("--> Database schema:")
		schemaCmd := exec.Command(sqlitePath, dbPath, ".schema")
		schemaCmd.Stdout = os.Stdout
		schemaCmd.Stderr = os.Stderr
		if err := schemaCmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: couldn't retrieve schema: %v\n", err)
		}
		fmt.Println("\n--> Starting interactive shell... (Ctrl+D to exit)")

		c := exec.Command(sqlitePath, dbPath)
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr

		return c.Run()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints the row counts of every run in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(cmd.Context())
		if err != nil {
			return err
		}

		if len(stats) == 0 {
			fmt.Println("No runs in the database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "RUN\tSTARTED\tSEARCH\tITEMS\tRESOURCES\tSEGMENT FILES\tRESOURCE FILES\tERRORS\t")

		var totalItems, totalResources, totalErrors int
		for _, s := range stats {
			name := s.Name
			if s.Blocked {
				name += " (blocked)"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n", name, s.StartedAt.Format("2006-01-02 15:04"),
				s.Search, s.Items, s.Resources, s.SegmentFiles, s.ResourceFiles, s.Errors)
			totalItems += s.Items
			totalResources += s.Resources
			totalErrors += s.Errors
		}

		fmt.Fprintln(w, " \t \t \t \t \t \t \t \t")
		fmt.Fprintf(w, "TOTAL\t\t\t%d\t%d\t\t\t%d\t\n", totalItems, totalResources, totalErrors)

		w.Flush()

		return nil
	},
}

// errorsCmd prints the error log of one run.
var errorsCmd = &cobra.Command{
	Use:   "errors <run name>",
	Short: "Prints the error log of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		errs, err := db.ListErrors(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(errs) == 0 {
			fmt.Printf("No errors logged for %s.\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PHASE\tID\tMESSAGE")
		for _, e := range errs {
			id := e.ItemID
			if id == "" {
				id = e.ResourceID
			}
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Phase, id, e.Message)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(shellCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(errorsCmd)
}
