// Command catalogetl ingests product catalog exports into a relational store.
//
//	catalogetl load products.json          # one file
//	curl ... | catalogetl load -           # stdin
//	catalogetl serve                       # HTTP upload form on http.addr
//	catalogetl validate --config prod.yaml
package main

import (
	"os"

	// Register every backend with the storage factory; store.kind picks one.
	_ "catalogetl/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
