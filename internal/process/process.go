// Package process stops a running recorder from the outside and reacts to being stopped.
package process

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

// Terminator asks another process to shut down. On unix that is SIGINT, so the
// target runs its cleanup; on windows the process is terminated.
type Terminator interface {
	Terminate(pid int) error
}

func NewTerminator() Terminator {
	return platformTerminator{}
}

func validatePid(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to terminate own process %d", pid)
	}
	return nil
}

// OnInterrupt runs cleanup once on SIGINT or SIGTERM, then exits the process.
// The returned func stops listening.
func OnInterrupt(cleanup func()) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go waitForSignal(sigs, done, cleanup, os.Exit)
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func waitForSignal(sigs <-chan os.Signal, done <-chan struct{}, cleanup func(), exit func(int)) {
	select {
	case sig := <-sigs:
		log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
		cleanup()
		exit(0)
	case <-done:
	}
}
