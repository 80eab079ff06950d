package privacy

// scrubbedError reports a scrubbed message and unwraps to the original.
type scrubbedError struct {
	err error
	msg string
}

func (e *scrubbedError) Error() string { return e.msg }

func (e *scrubbedError) Unwrap() error { return e.err }

// WrapError returns err with URLs, credentials and addresses removed from its
// message. errors.Is and errors.As still see the original. Nil stays nil.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, msg: ScrubMessage(err.Error())}
}
