//go:build windows

package process

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

type platformTerminator struct{}

// Terminate uses TerminateProcess: console control events do not reach
// processes started without a console.
func (platformTerminator) Terminate(pid int) error {
	if err := validatePid(pid); err != nil {
		return err
	}
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("failed to open process %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)
	if err = windows.TerminateProcess(h, 1); err != nil {
		return fmt.Errorf("failed to terminate process %d: %w", pid, err)
	}
	log.Info().Int("pid", pid).Msg("process terminated")
	return nil
}
