package main

import (
	"log"
	"os"
)

func main() {
	if err := newRootCmd(log.New(os.Stderr, "", log.LstdFlags)).Execute(); err != nil {
		os.Exit(1)
	}
}
