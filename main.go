package main

import (
	"os"

	"event-photo-backend/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
