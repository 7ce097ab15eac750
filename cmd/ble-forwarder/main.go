// Command ble-forwarder bridges local TCP clients to a paired mobile
// device's internet uplink over a single BLE L2CAP connection-oriented
// channel. It takes no flags: every configuration value comes from the
// identity provider's files or compiled-in constants.
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/viam-labs/ble-managed/internal/blelog"
	"github.com/viam-labs/ble-managed/internal/forwarder"
	"github.com/viam-labs/ble-managed/internal/rendezvous"
)

var log = blelog.New("ble-forwarder")

func main() {
	defer func() {
		if x := recover(); x != nil {
			log.Error(fmt.Sprintf("run time panic: %v", x))
			log.Error(string(debug.Stack()))
			panic(x)
		}
	}()

	// rendezvous.New resolves to GATTRendezvous by default, or
	// StubRendezvous when built with -tags nobluetooth for a host without
	// a BLE adapter.
	rv, err := rendezvous.New(log)
	if err != nil {
		log.Fatalf("ble-forwarder: failed to initialize rendezvous: %v", err)
	}

	code := forwarder.Run(context.Background(), log, rv)
	os.Exit(code)
}
