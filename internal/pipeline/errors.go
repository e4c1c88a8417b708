package pipeline

import (
	"errors"

	"github.com/keithlinneman/middleware-demo/internal/xerrors"
)

// ErrStalled is wrapped by the error logged when an adapted middleware
// neither continues nor responds.
var ErrStalled = errors.New("middleware neither called next nor wrote a response")

func errStalled(name string) error {
	return xerrors.Wrapf(ErrStalled, "stage %s", name)
}
