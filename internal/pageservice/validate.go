package pageservice

import (
	"errors"
	"path"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/wikigraph/internal/apperr"
)

const maxPathLen = 512

var errTraversal = errors.New("must stay inside the wiki root")

func relativePath(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	clean := path.Clean(strings.TrimPrefix(s, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return errTraversal
	}
	for _, part := range strings.Split(clean, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return errors.New("must not contain hidden segments")
		}
	}
	return nil
}

// CreatePageInput is the request for CreatePage.
type CreatePageInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (in CreatePageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Path, validation.Required, validation.Length(1, maxPathLen), validation.By(relativePath)),
	)
}

// MovePageInput is the request for MovePage.
type MovePageInput struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (in MovePageInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.From, validation.Required, validation.Length(1, maxPathLen), validation.By(relativePath)),
		validation.Field(&in.To, validation.Required, validation.Length(1, maxPathLen), validation.By(relativePath)),
	)
}

// EditEntityInput is the request for EditEntity.
type EditEntityInput struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	singleLine bool
}

func (in EditEntityInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Required),
		validation.Field(&in.Content, validation.When(in.singleLine,
			validation.By(func(v interface{}) error {
				if strings.ContainsAny(v.(string), "\r\n") {
					return errors.New("must be a single line for this entity kind")
				}
				return nil
			}))),
	)
}

// invalid wraps an ozzo validation failure as an apperr.ValidationError.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	var fields validation.Errors
	if errors.As(err, &fields) && len(fields) > 0 {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		return &apperr.ValidationError{Field: names[0], Err: fields[names[0]]}
	}
	return &apperr.ValidationError{Err: err}
}
