package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/locdata/locharvest/pkg/decompose"
	"github.com/locdata/locharvest/pkg/fetch"
	"github.com/locdata/locharvest/pkg/locgov"
	"github.com/locdata/locharvest/pkg/search"
)

func main() {
	// Usage: go run *.go -search "https://www.loc.gov/maps/?q=ohio" -n 5 -ua "you@example.org"

	searchFlag := flag.String("search", "", "loc.gov search URL")
	countFlag := flag.Int("n", 5, "Number of results to decompose")
	uaFlag := flag.String("ua", "", "Contact details for the User-Agent")

	// Parse the command-line flags
	flag.Parse()

	if *searchFlag == "" {
		fmt.Println("A search URL is required. Please provide it using -search flag.")
		return
	}

	cfg := fetch.DefaultConfig()
	cfg.UserAgent = *uaFlag
	engine, err := fetch.New(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	// One breaker per batch: a 429 stops every later request in it
	breaker := fetch.NewBreaker()

	opts := search.DefaultOptions()
	opts.Cap = *countFlag
	res := search.New(engine, nil).Run(ctx, breaker, *searchFlag, opts)
	for _, d := range res.Diagnostics {
		fmt.Println("search:", d)
	}

	var seeds []decompose.Seed
	for _, id := range res.Identifiers().Items {
		seeds = append(seeds, decompose.Seed{ItemID: id})
	}
	if len(seeds) == 0 {
		return
	}

	out, err := decompose.New(engine, locgov.NewSite(locgov.Prod), nil).Decompose(ctx, breaker, seeds, false)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, f := range out.SegmentFiles {
		fmt.Println(f.ItemID, f.SegmentNum, f.Mimetype, f.URL)
	}
}
