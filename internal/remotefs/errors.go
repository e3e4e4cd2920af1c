package remotefs

import (
	"errors"
	"fmt"
)

// Step identifies the stage of an operation that failed.
type Step int

const (
	StepConnect Step = iota + 1
	StepHandshake
	StepAuth
	StepChannel
	StepOpenDir
	StepReadDir
	StepRemoteOpen
	StepLocalCreate
	StepRemoteRead
	StepLocalWrite
	StepLocalOpen
	StepRemoteCreate
	StepLocalRead
	StepRemoteWrite
)

var stepNames = map[Step]string{
	StepConnect:      "TCP connect",
	StepHandshake:    "SSH handshake",
	StepAuth:         "Auth",
	StepChannel:      "SFTP",
	StepOpenDir:      "Open dir",
	StepReadDir:      "Read dir",
	StepRemoteOpen:   "Open remote file",
	StepLocalCreate:  "Create local file",
	StepRemoteRead:   "Read remote file",
	StepLocalWrite:   "Write local file",
	StepLocalOpen:    "Open local file",
	StepRemoteCreate: "Create remote file",
	StepLocalRead:    "Read local file",
	StepRemoteWrite:  "Write remote file",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// establishing reports whether the step belongs to session setup rather than
// to the file operation itself.
func (s Step) establishing() bool {
	return s >= StepConnect && s <= StepChannel
}

var (
	// ErrSessionUsed is returned when a second operation is attempted on a
	// Session. Sessions run exactly one operation.
	ErrSessionUsed = errors.New("remotefs: session already used")

	// ErrNotDirectory is the cause reported by List when the remote path
	// exists but is not a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// OpError is the error returned by every failing step. Its message has the
// form "<step> failed: <cause>", which is what the presentation layer shows.
type OpError struct {
	Step Step
	// Path is the local or remote path the step worked on, if any.
	Path string
	Err  error
}

func (e *OpError) Error() string {
	return e.Step.String() + " failed: " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(step Step, path string, err error) error {
	return &OpError{Step: step, Path: path, Err: err}
}

// StepOf returns the step that produced err, or 0 when err did not come
// from this package.
func StepOf(err error) Step {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Step
	}
	return 0
}
