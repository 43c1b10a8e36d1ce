package cmd

import (
	"fmt"
	"runtime"
)

// Version is set at build time via -ldflags "-X github.com/recaphq/recap/cmd.Version=v1.2.3".
var Version = "dev"

func printVersion() {
	fmt.Printf("recap %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
