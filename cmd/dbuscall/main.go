// Program dbuscall connects to a message bus, performs the Hello
// handshake, and optionally makes one method call, to show how the
// package can be driven from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mvdan-labs/dbuswire"
)

func main() {
	// By default an exit code is set to indicate a failure
	// since there are more failure scenarios to begin with.
	exitCode := 1
	defer func() { os.Exit(exitCode) }()

	addr := flag.String("addr", "", "bus address, e.g. unix:path=/run/user/1000/bus")
	timeout := flag.Duration("timeout", 5*time.Second, "timeout for authentication and for the method call")
	dest := flag.String("dest", "org.freedesktop.DBus", "method call destination")
	path := flag.String("path", "/org/freedesktop/DBus", "method call object path")
	iface := flag.String("iface", "org.freedesktop.DBus", "method call interface")
	member := flag.String("member", "", "method call member; if empty, only Hello is performed")
	flag.Parse()

	opts := []dbus.Option{dbus.WithDialTimeout(*timeout)}
	if *addr != "" {
		opts = append(opts, dbus.WithAddress(*addr))
	}

	conn, err := dbus.Connect(opts...)
	if err != nil {
		log.Print(err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Print(err)
		}
	}()

	fmt.Println(conn.UniqueName())

	if *member == "" {
		exitCode = 0
		return
	}

	call, err := dbus.NewMethodCall(*dest, dbus.ObjectPath(*path), *iface, *member)
	if err != nil {
		log.Print(err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	reply, err := conn.CallMethod(ctx, call)
	if err != nil {
		log.Print(err)
		return
	}
	printBody(reply)

	exitCode = 0
}

func printBody(m *dbus.Message) {
	parts := make([]string, len(m.Body))
	for i, v := range m.Body {
		parts[i] = fmt.Sprintf("%v", v)
	}
	fmt.Println(strings.Join(parts, " "))
}
