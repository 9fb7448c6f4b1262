package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeJSON reads a JSON body into payload. An empty body leaves the zero value.
func decodeJSON(req *http.Request, payload any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	if err := dec.Decode(payload); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body", errInvalidRequest)
	}
	return nil
}

// decode reads a JSON body into the struct payload and validates its tags.
func decode(req *http.Request, payload any) error {
	if err := decodeJSON(req, payload); err != nil {
		return err
	}
	if err := validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", errInvalidRequest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
