package main

import (
	"go-stash-downloader/cmd/stash-downloader/cmd"
)

func main() {
	cmd.Execute()
}
