package main

import "example.com/vision_relay/pkg/logging"

func main() {
	logging.Init()
	Execute()
}
