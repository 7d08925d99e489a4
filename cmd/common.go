package cmd

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/locdata/locharvest/internal/utils"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/harvest"
	"github.com/locdata/locharvest/pkg/locgov"
	"github.com/locdata/locharvest/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// fetchConfig builds the fetch settings from config, env and flags.
func fetchConfig(cmd *cobra.Command) fetch.Config {
	cfg := fetch.DefaultConfig()
	if pause := viper.GetFloat64("pause"); pause >= 0 {
		cfg.Pause = time.Duration(pause * float64(time.Second))
		cfg.RequestInterval = cfg.Pause
	}
	if timeout := viper.GetInt("timeout"); timeout > 0 {
		cfg.Timeout = time.Duration(timeout) * time.Second
	}
	if attempts := viper.GetInt("max_attempts"); attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.UserAgent = viper.GetString("user_agent")
	cfg.Proxy, _ = cmd.Flags().GetString("proxy")
	return cfg
}

func site() locgov.Site {
	env, err := locgov.ParseEnvironment(viper.GetString("env"))
	if err != nil {
		utils.Log.Warnf("%v, using %s", err, env)
	}
	return locgov.NewSite(env)
}

func harvestConfig(cmd *cobra.Command) harvest.Config {
	alto, _ := cmd.Flags().GetBool("alto")
	return harvest.Config{
		Fetch: fetchConfig(cmd),
		Site:  site(),
		Alto:  alto,
		Log:   utils.Log,
		OnPhaseDone: func(phase string, rows int) {
			utils.Log.Infof("Finished %s phase: %d rows.", phase, rows)
		},
	}
}

// runName picks the name of a run: --name, then output_prefix, then a
// timestamp.
func runName(cmd *cobra.Command, now time.Time) string {
	if name, _ := cmd.Flags().GetString("name"); name != "" {
		return name
	}
	if prefix := viper.GetString("output_prefix"); prefix != "" {
		return prefix
	}
	return "locharvest-" + now.Format("20060102-150405")
}

// confirmLarge asks on out whether to go on with a search of expected
// results, reading the answer from in.
func confirmLarge(in io.Reader, out io.Writer) func(int) bool {
	return func(expected int) bool {
		fmt.Fprintf(out, "Your search has %d results, which is above the limit of loc.gov's search API. Continue anyway? [y/N] ", expected)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

// finishRun writes the outputs of res, saves it to the database when --db is
// set, and prints a summary.
func finishRun(cmd *cobra.Command, res *harvest.Result) error {
	name := runName(cmd, res.StartedAt.Local())
	dir := filepath.Join(viper.GetString("output_dir"), name)

	paths, err := res.Write(dir)
	for _, p := range paths {
		utils.Log.Infof("Wrote %s", p)
	}
	if err != nil {
		return fmt.Errorf("could not write outputs: %w", err)
	}

	if useDB, _ := cmd.Flags().GetBool("db"); useDB {
		if err := saveRun(cmd, res.StorageRun(name)); err != nil {
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), name, dir, res)
	return nil
}

func saveRun(cmd *cobra.Command, run storage.Run) error {
	dbPath, err := utils.GetAbsDBPath(viper.GetString("dbpath"))
	if err != nil {
		return err
	}
	lock, err := utils.NewDBLock(dbPath)
	if err != nil {
		return err
	}
	if err := lock.Lock(cmd.Context()); err != nil {
		return err
	}
	defer lock.Unlock()

	db, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("could not open database %s: %w", dbPath, err)
	}
	defer db.Close()

	if err := db.SaveRun(cmd.Context(), run); err != nil {
		return fmt.Errorf("could not save run %s: %w", run.Name, err)
	}
	utils.Log.Infof("Saved run %s (%s) to %s", run.Name, run.ID, dbPath)
	return nil
}

func printSummary(w io.Writer, name, dir string, res *harvest.Result) {
	fmt.Fprintf(w, "Run %s (%s)\n", name, res.RunID)
	if res.Search != nil {
		fmt.Fprintf(w, "  search results: %d of %d\n", len(res.Search.Records), res.Search.Expected)
	}
	if d := res.Decomposed; d != nil {
		fmt.Fprintf(w, "  items: %d, resources: %d, segment files: %d, resource files: %d\n",
			len(d.Items), len(d.Resources), len(d.SegmentFiles), len(d.ResourceFiles))
	}
	if len(res.Words) > 0 || len(res.AltoFailures) > 0 {
		fmt.Fprintf(w, "  ALTO words: %d (%d files failed)\n", len(res.Words), len(res.AltoFailures))
	}
	if !res.Errors.Empty() {
		fmt.Fprintf(w, "  errors: %d search, %d items, %d resources\n",
			len(res.Errors.Search), len(res.Errors.Items), len(res.Errors.Resources))
	}
	if res.Blocked {
		fmt.Fprintln(w, "  loc.gov blocked further requests; the run stopped early.")
	}
	fmt.Fprintf(w, "  output: %s\n", dir)
}

// addRunFlags registers the flags shared by commands that produce a run.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("alto", false, "Also fetch the ALTO XML of every segment and write one row per word")
	cmd.Flags().Bool("db", false, "Save the run to the SQLite database")
	cmd.Flags().String("name", "", "Run name, used for the output directory and the database (default: output_prefix or a timestamp)")
}
