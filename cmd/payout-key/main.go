// Package main generates payout key material.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/payoutcore/internal/platform/config"
	"github.com/louisbranch/payoutcore/internal/tools/payoutkey"
)

func main() {
	cfg, err := payoutkey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := payoutkey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
