// ABOUTME: Entry point for the jam session server
// ABOUTME: Parses CLI flags, sets up logging, and runs until interrupted
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/campfire-jams/jams-go/internal/server"
)

var (
	host         = flag.String("host", "0.0.0.0", "Address to bind")
	port         = flag.Int("port", 5000, "WebSocket server port")
	name         = flag.String("name", "", "Server friendly name (default: hostname-jams)")
	downloadsDir = flag.String("downloads", "downloads", "Directory for downloaded audio and the library index")
	logFile      = flag.String("log-file", "jams-server.log", "Log file path")
	noMDNS       = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
)

func main() {
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	// Log to both file and stdout
	multiWriter := io.MultiWriter(os.Stdout, f)
	log.SetOutput(multiWriter)

	serverName := *name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-jams", hostname)
	}

	log.Printf("Starting jams server: %s on %s:%d", serverName, *host, *port)
	log.Printf("Logging to: %s", *logFile)
	log.Printf("Press Ctrl-C to stop")

	srv, err := server.New(server.Config{
		Host:         *host,
		Port:         *port,
		Name:         serverName,
		DownloadsDir: *downloadsDir,
		EnableMDNS:   !*noMDNS,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
