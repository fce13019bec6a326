// Package errs collects errors that happen together, such as an evaluation
// failure followed by a failed restore.
package errs

import (
	"bytes"
	"fmt"
)

// Many is a list of errors reported as one.
type Many []error

func (err Many) Error() string {
	var buf bytes.Buffer
	for i, e := range err {
		if i > 0 {
			buf.WriteByte('\n')
		}
		fmt.Fprint(&buf, e.Error())
	}
	return buf.String()
}

// Join returns nil if every error is nil, the only non-nil error if there is
// one, and a Many otherwise.
func Join(errors ...error) error {
	var retVal Many
	for _, e := range errors {
		if e != nil {
			retVal = append(retVal, e)
		}
	}
	switch len(retVal) {
	case 0:
		return nil
	case 1:
		return retVal[0]
	}
	return retVal
}
