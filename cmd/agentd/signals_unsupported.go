// +build !linux,!darwin

package main

import "os"

func shutdownSignals() []os.Signal {
	return nil
}
