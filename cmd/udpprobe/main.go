// udpprobe sends a single test datagram so the receiving side of the
// stream can be checked before pointing the camera at it.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
)

func main() {
	host := flag.String("dest-host", "127.0.0.1", "Destination host")
	port := flag.Int("dest-port", 5000, "Destination UDP port")
	message := flag.String("message", "hi there", "Payload to send")
	flag.Parse()

	conn, err := net.Dial("udp", net.JoinHostPort(*host, fmt.Sprintf("%d", *port)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(*message)); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent %q to %s\n", *message, conn.RemoteAddr())
}
