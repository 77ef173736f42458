package idwrap

import (
	"github.com/oklog/ulid/v2"
)

// IDWrap is a ULID-backed identifier used for cases, chain executions, and
// evaluator request ids. It marshals as its canonical 26-character text form
// so every model that carries one stays plain JSON-representable.
type IDWrap struct {
	ulid ulid.ULID
}

func NewNow() IDWrap {
	return IDWrap{ulid: ulid.Make()}
}

func (u IDWrap) String() string {
	return u.ulid.String()
}

func (u IDWrap) MarshalText() ([]byte, error) {
	return u.ulid.MarshalText()
}

func (u *IDWrap) UnmarshalText(data []byte) error {
	return u.ulid.UnmarshalText(data)
}
