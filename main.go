package main

import "doodle-sync-backend/cmd"

func main() {
	cmd.Run()
}
