// Package main provides the Kiln ML CLI.
package main

import (
	"fmt"
	"os"

	"github.com/kiln-ml/kiln/driver/host"
	"github.com/kiln-ml/kiln/driver/webgpu"
)

const version = "v0.0.1-dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("Kiln ML %s\n", version)
			return
		case "devices":
			listDevices()
			return
		}
	}

	fmt.Println("Kiln ML - GPU Compute Backends for Neural Network Layers")
	fmt.Printf("Version: %s\n\n", version)
	fmt.Println("Commands:")
	fmt.Println("  version    Show version")
	fmt.Println("  devices    List available compute devices")
}

func listDevices() {
	drv := host.New(1)
	for _, dev := range drv.Devices() {
		fmt.Printf("host    %d  %s\n", dev.ID(), dev.Name())
	}

	if !webgpu.IsAvailable() {
		fmt.Println("webgpu  -  not available")
		return
	}
	gpu, err := webgpu.New()
	if err != nil {
		fmt.Printf("webgpu  -  %v\n", err)
		return
	}
	defer gpu.Release()
	info := gpu.Info()
	for _, dev := range gpu.Devices() {
		fmt.Printf("webgpu  %d  %s (%s)\n", dev.ID(), dev.Name(), info.Vendor)
	}
}
