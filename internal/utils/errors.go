package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"sync"
	"syscall"

	"google.golang.org/api/googleapi"
)

type errTmpIf interface{ Temporary() bool }
type errTmp struct{ error }

func (t errTmp) Temporary() bool { return true }
func (t errTmp) Unwrap() error   { return t.error }

// MakeTemporary marks err as transient
func MakeTemporary(err error) error {
	if err == nil {
		return nil
	}
	return errTmp{err}
}

// HTTPStatusError is returned when a server answers with a non-2xx status
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

//Temporary inspects the error trace and returns whether the error is transient
func Temporary(err error) bool {
	if err == nil {
		return false
	}
	//first check explicitely marked error
	var tmp errTmpIf
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}

	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		if uerr.Timeout() {
			return true
		}
		err = uerr.Err
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.EBUSY, syscall.ECANCELED, syscall.ECONNABORTED, syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENOMEM, syscall.EPIPE:
			return true
		}
	}
	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	var gapiError *googleapi.Error
	if errors.As(err, &gapiError) {
		return gapiError.Code == 429 || (gapiError.Code >= 500 && gapiError.Code < 600)
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ErrWaitGroup is a collection of goroutines working on subtasks that are part of the same overall task.
type ErrWaitGroup struct {
	wg sync.WaitGroup

	errMutex sync.Mutex
	errs     []error
}

// Wait blocks until all function calls from the Go method have returned, then
// returns all the non-nil error (if any) from them.
func (g *ErrWaitGroup) Wait() []error {
	g.wg.Wait()
	return g.errs
}

// Go calls the given function in a new goroutine.
func (g *ErrWaitGroup) Go(f func() error) {
	g.wg.Add(1)

	go func() {
		defer g.wg.Done()

		if err := f(); err != nil {
			g.AppendError(err)
		}
	}()
}

// AppendError records an error that was not returned by a function passed to Go
func (g *ErrWaitGroup) AppendError(err error) {
	g.errMutex.Lock()
	g.errs = append(g.errs, err)
	g.errMutex.Unlock()
}

// MergeErrors, appending texts
// if priorityToErr is true, priority to the fatal error then to the temporary
// else, priority to no error, then to the temporary and finally to the fatal error.
func MergeErrors(priorityToError bool, err error, newErrs ...error) error {
	for _, newErr := range newErrs {
		switch {
		case err == nil:
			err = newErr
		case newErr == nil:
			if !priorityToError {
				err = nil
			}
		case priorityToError != Temporary(newErr):
			err = fmt.Errorf("%w\n %v", newErr, err)
		default:
			err = fmt.Errorf("%w\n %v", err, newErr)
		}
	}
	return err
}
