package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"pastebin/pkg/domain"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxBodySize = 1 << 20

var requestValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads exactly one JSON object into dst and checks its
// validate tags. Errors are domain.ErrInvalidRequest with a short reason.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	return decodeLimited(w, r, dst, maxBodySize)
}

// decodeLimited is decodeAndValidate with a caller chosen body limit.
func decodeLimited(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.ErrInvalidRequest.WithMsg("request body too large")
		}
		return domain.ErrInvalidRequest.WithMsg("invalid JSON body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return domain.ErrInvalidRequest.WithMsg("invalid JSON body")
	}
	if err := requestValidator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.ErrInvalidRequest.WithMsg(describe(verrs[0]))
		}
		return domain.ErrInvalidRequest.WithMsg("invalid request payload")
	}
	return nil
}
func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "invalid email format"
	case "min":
		return field + " must be at least " + fe.Param() + " characters"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "url":
		return field + " must be a URL"
	}
	return "invalid " + field
}

// pageReq reads pageNumber and pageSize. Missing values take the defaults.
func pageReq(r *http.Request) (domain.PageReq, error) {
	q := r.URL.Query()
	number, size := 0, 0
	var err error
	if v := q.Get("pageNumber"); v != "" {
		if number, err = strconv.Atoi(v); err != nil {
			return domain.PageReq{}, domain.ErrInvalidRequest.WithMsg("pageNumber must be a number")
		}
	}
	if v := q.Get("pageSize"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			return domain.PageReq{}, domain.ErrInvalidRequest.WithMsg("pageSize must be a number")
		}
	}
	return domain.NewPageReq(number, size), nil
}
