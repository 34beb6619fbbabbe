package recorder

import (
	"github.com/pkg/errors"

	"github.com/petrzlen/vad-recorder/pkg/audioio"
)

var (
	ErrDevice = audioio.ErrDevice
	ErrStream = audioio.ErrStream

	ErrNotInitialized  = errors.New("recorder not initialized")
	ErrIO              = errors.New("recording i/o error")
	ErrWriter          = errors.New("wav writer error")
	ErrInvalidArgument = errors.New("invalid argument")
)
