package session

import "fmt"

// Kind classifies a session failure.
type Kind int

// Error kinds.
const (
	KindLibraryInit Kind = iota + 1
	KindLibrarySettings
	KindResourceOpenReadWrite
	KindResourceOpenRead
	KindResourceRead
	KindResourceWrite
	KindResourceFailed
	KindNotAuthorized
	KindBadState
	KindBadURI
)

var kindNames = map[Kind]string{
	KindLibraryInit:           "library init",
	KindLibrarySettings:       "library settings",
	KindResourceOpenReadWrite: "open read/write",
	KindResourceOpenRead:      "open read",
	KindResourceRead:          "read",
	KindResourceWrite:         "write",
	KindResourceFailed:        "resource failed",
	KindNotAuthorized:         "not authorized",
	KindBadState:              "bad state",
	KindBadURI:                "bad uri",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a session failure of a given Kind. Err, when set, is the
// transport or resolver error that caused it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("srt: %s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("srt: %s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("srt: %s: %v", e.Kind, e.Err)
	}
	return "srt: " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the Err* sentinels below can be
// used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is, one per Kind.
var (
	ErrLibraryInit           = &Error{Kind: KindLibraryInit}
	ErrLibrarySettings       = &Error{Kind: KindLibrarySettings}
	ErrResourceOpenReadWrite = &Error{Kind: KindResourceOpenReadWrite}
	ErrResourceOpenRead      = &Error{Kind: KindResourceOpenRead}
	ErrResourceRead          = &Error{Kind: KindResourceRead}
	ErrResourceWrite         = &Error{Kind: KindResourceWrite}
	ErrResourceFailed        = &Error{Kind: KindResourceFailed}
	ErrNotAuthorized         = &Error{Kind: KindNotAuthorized}
	ErrBadState              = &Error{Kind: KindBadState}
	ErrBadURI                = &Error{Kind: KindBadURI}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}
