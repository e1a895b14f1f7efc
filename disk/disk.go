package disk

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/outofforest/libexec"
)

// ErrFilterFailed is returned when the filter process exits with an error.
var ErrFilterFailed = errors.New("filter process failed")

// Input is the source of transferred data.
type Input struct {
	io.ReadCloser

	// File is the underlying file, handed to the filter process directly.
	File *os.File
	Name string
	// Size is the total size of the input, -1 if unknown.
	Size int64
}

// Open opens the file, or stdin if the name is empty.
func Open(fileName string) (*Input, error) {
	if fileName == "" {
		return &Input{
			ReadCloser: io.NopCloser(os.Stdin),
			File:       os.Stdin,
			Name:       "(stdin)",
			Size:       -1,
		}, nil
	}

	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "opening input %q failed", fileName)
	}

	size := int64(-1)
	if info, err := f.Stat(); err == nil && info.Mode().IsRegular() {
		size = info.Size()
	}

	return &Input{
		ReadCloser: f,
		File:       f,
		Name:       fileName,
		Size:       size,
	}, nil
}

// Filter is the external process transforming the input.
type Filter struct {
	cmd *exec.Cmd
	pr  *io.PipeReader
	pw  *io.PipeWriter
}

// NewFilter prepares shell command reading from in. Its output is available from Filter.Read
// once Run is started. Input given as *os.File is inherited by the process, so Run does not
// wait for it to be drained.
func NewFilter(command string, in io.Reader) *Filter {
	pr, pw := io.Pipe()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = in
	cmd.Stdout = pw
	cmd.Stderr = os.Stderr

	return &Filter{
		cmd: cmd,
		pr:  pr,
		pw:  pw,
	}
}

// Read reads output of the filter.
func (f *Filter) Read(p []byte) (int, error) {
	return f.pr.Read(p)
}

// Close closes the output of the filter.
func (f *Filter) Close() error {
	return f.pr.Close()
}

// Run runs the process until it exits. Output stream is terminated by EOF regardless of the
// exit status, which is returned as ErrFilterFailed.
func (f *Filter) Run(ctx context.Context) error {
	err := libexec.Exec(ctx, f.cmd)
	_ = f.pw.Close()
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		return errors.Wrapf(ErrFilterFailed, "%q: %s", f.cmd.String(), err)
	}
	return nil
}
