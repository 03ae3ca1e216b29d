package main

import "github.com/warp/turf-engine/cmd"

func main() {
	cmd.Execute()
}
