// Command demoserver starts a local build browser for exercising permafind.
// Usage: go run ./cmd/demoserver [port] [mode]
// Default port: 9999. Modes: none, pushstate, anchor, share.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/raysh454/permafind/internal/demoserver"
)

func main() {
	cfg := demoserver.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}
	if len(os.Args) > 2 {
		mode, err := demoserver.ParseMode(os.Args[2])
		if err != nil {
			log.Fatal(err)
		}
		cfg.InitialMode = mode
	}

	fmt.Println("===========================================")
	fmt.Println("   permafind demo site")
	fmt.Println("===========================================")
	fmt.Println()
	fmt.Println("A client-rendered build browser whose project linking")
	fmt.Println("can be switched on the fly:")
	fmt.Println("  none       no permalink (cards are plain markup)")
	fmt.Println("  pushstate  card click pushes /browse/{id}")
	fmt.Println("  anchor     cards link to /build/{id}")
	fmt.Println("  share      a Share button opens /project/{id}")
	fmt.Println()
	fmt.Printf("Point probe.base_url at http://localhost:%d\n", cfg.Port)
	fmt.Println()

	server := demoserver.NewDemoServer(cfg)
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
