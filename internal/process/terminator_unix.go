//go:build unix

package process

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type platformTerminator struct{}

func (platformTerminator) Terminate(pid int) error {
	if err := validatePid(pid); err != nil {
		return err
	}
	if err := unix.Kill(pid, unix.SIGINT); err != nil {
		return fmt.Errorf("failed to send SIGINT to process %d: %w", pid, err)
	}
	log.Info().Int("pid", pid).Msg("SIGINT sent")
	return nil
}
