package participant

import "errors"

// Kind classifies service failures; the handler maps each kind to an HTTP
// status.
type Kind int

const (
	KindStore Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindState:
		return "state"
	default:
		return "store"
	}
}

// Error carries a Kind and the message returned verbatim to the client.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err. Errors that are not *Error are store
// failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

var (
	errDuplicate       = &Error{Kind: KindConflict, Msg: "Participant with the same email already exists"}
	errNotFound        = &Error{Kind: KindNotFound, Msg: "Participant not found."}
	errInactive        = &Error{Kind: KindState, Msg: "Participant is inactive."}
	errAlreadyInactive = &Error{Kind: KindState, Msg: "Participant is already inactive."}
	errWorkNotFound    = &Error{Kind: KindNotFound, Msg: "Work details not found."}
	errHomeNotFound    = &Error{Kind: KindNotFound, Msg: "Home details not found."}
)

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func storeError(err error) error {
	return &Error{Kind: KindStore, Msg: err.Error(), Err: err}
}
