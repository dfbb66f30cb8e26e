package main

import (
	"log"

	tool "github.com/imrishuroy/go-route-retry/internal/tools/retry"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}
