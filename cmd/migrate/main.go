package main

import (
	"log"

	tool "github.com/sandeepkv93/feature-flag-control-plane/internal/tools/migrate"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
