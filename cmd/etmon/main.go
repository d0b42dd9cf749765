// Command etmon is a read-only discovery and status probe: it broadcasts a
// UDP discovery probe and prints whatever systems answer, without ever
// attaching to a station or touching the pool. It is the one CLI surface
// spec.md's core scope carves out from the rest of the ingester/XML/EPICS
// tooling that sits outside the core (spec.md §1: "Out of scope... the CLI
// programs that start a system or insert events into it").
//
// Grounded on the teacher's version.go PrintVersion helper for its
// plain-writer output style.
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"net"
	"os"
	"time"
)

type discoveryReply struct {
	SystemID  uint32
	Addresses []string
	TCPAddr   string
}

const discoveryProbeMagic = 0xE7
const discoveryReplyMagic = discoveryProbeMagic + 1

func main() {
	addr := flag.String("addr", "255.255.255.255:11112", "UDP broadcast address to probe")
	timeout := flag.Duration("timeout", 2*time.Second, "how long to wait for replies")
	flag.Parse()

	if err := probe(os.Stdout, *addr, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "etmon: %v\n", err)
		os.Exit(1)
	}
}

func probe(w *os.File, addr string, timeout time.Duration) error {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{discoveryProbeMagic}); err != nil {
		return err
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	buf := make([]byte, 2048)
	found := 0
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		if n == 0 || buf[0] != discoveryReplyMagic {
			continue
		}
		var reply discoveryReply
		if err := gob.NewDecoder(bytes.NewReader(buf[1:n])).Decode(&reply); err != nil {
			continue
		}
		found++
		fmt.Fprintf(w, "system %d: tcp=%s addresses=%v\n", reply.SystemID, reply.TCPAddr, reply.Addresses)
	}
	if found == 0 {
		fmt.Fprintln(w, "no systems responded")
	}
	return nil
}
