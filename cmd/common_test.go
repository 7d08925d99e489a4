package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestConfirmLarge(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes ", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got := confirmLarge(strings.NewReader(tt.in), &out)(250000)
		if got != tt.want {
			t.Fatalf("%q: expected %v, got %v", tt.in, tt.want, got)
		}
		if !strings.Contains(out.String(), "250000 results") {
			t.Fatalf("expected the result count in the prompt, got %q", out.String())
		}
	}
}

func TestRunName(t *testing.T) {
	defer viper.Set("output_prefix", "")
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	c := &cobra.Command{}
	addRunFlags(c)

	viper.Set("output_prefix", "")
	if got := runName(c, now); got != "locharvest-20240506-070809" {
		t.Fatalf("unexpected default name %s", got)
	}
	viper.Set("output_prefix", "maps")
	if got := runName(c, now); got != "maps" {
		t.Fatalf("expected output_prefix, got %s", got)
	}
	if err := c.Flags().Set("name", "atlases"); err != nil {
		t.Fatal(err)
	}
	if got := runName(c, now); got != "atlases" {
		t.Fatalf("expected --name to win, got %s", got)
	}
}

func TestSeedsFromArgs(t *testing.T) {
	args := []string{"1", "https://www.loc.gov/resource/x/?sp=2"}
	if got, want := seedsFromArgs(args, false), []decompose.Seed{{ItemID: "1"}, {ItemID: args[1]}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if got, want := seedsFromArgs(args, true), []decompose.Seed{{ResourceID: "1"}, {ResourceID: args[1]}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestFetchConfig(t *testing.T) {
	defer func() {
		viper.Set("pause", 5)
		viper.Set("timeout", 60)
		viper.Set("max_attempts", 10)
		viper.Set("user_agent", "")
	}()
	viper.Set("pause", 0.5)
	viper.Set("timeout", 30)
	viper.Set("max_attempts", 3)
	viper.Set("user_agent", "jane@example.org")

	c := &cobra.Command{}
	c.Flags().String("proxy", "http://127.0.0.1:8080", "")

	cfg := fetchConfig(c)
	if cfg.Pause != 500*time.Millisecond || cfg.RequestInterval != cfg.Pause {
		t.Fatalf("unexpected pause %v / interval %v", cfg.Pause, cfg.RequestInterval)
	}
	if cfg.Timeout != 30*time.Second || cfg.MaxAttempts != 3 {
		t.Fatalf("unexpected timeout %v / attempts %d", cfg.Timeout, cfg.MaxAttempts)
	}
	if cfg.UserAgent != "jane@example.org" || cfg.Proxy != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected user agent %q / proxy %q", cfg.UserAgent, cfg.Proxy)
	}
}
