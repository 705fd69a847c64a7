package main

import (
	"os"

	"mail-chat-bridge-go/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
