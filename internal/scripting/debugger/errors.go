package debugger

import "github.com/R3E-Network/scriptlayer/pkg/scripterr"

var errAlreadyActive = scripterr.New(scripterr.CodeResourceError, "a debugger session is already active")

func resourceErr(reason string, cause error) error {
	return scripterr.ResourceError(reason, cause)
}
