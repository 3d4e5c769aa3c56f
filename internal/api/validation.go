/*-------------------------------------------------------------------------
 *
 * validation.go
 *    Request decoding and validation for the grow API
 *
 * Bodies are size-limited, decoded strictly and then checked against
 * validator struct tags. Cross-field money checks that tags cannot
 * express live on the request types themselves.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/api/validation.go
 *
 *-------------------------------------------------------------------------
 */

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxBodySize = 1 << 20

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	/* report json names, not Go field names */
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

/* selfValidator is implemented by requests with checks beyond struct tags */
type selfValidator interface {
	Validate() error
}

/* decodeAndValidate reads a bounded JSON body into dst and validates it */
func decodeAndValidate(r *http.Request, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodySize {
		return fmt.Errorf("request body exceeds %d bytes", maxBodySize)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return errors.New("request body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	if sv, ok := dst.(selfValidator); ok {
		return sv.Validate()
	}
	return nil
}

/* validationMessage reduces validator output to the first failing field */
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		first := verrs[0]
		if first.Param() != "" {
			return fmt.Errorf("field '%s' failed '%s=%s'", first.Field(), first.Tag(), first.Param())
		}
		return fmt.Errorf("field '%s' failed '%s'", first.Field(), first.Tag())
	}
	return err
}

/* ValidatePaginationParams reads limit and offset, applying defaults */
func ValidatePaginationParams(r *http.Request) (int, int, error) {
	limit, offset := defaultPageLimit, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil {
			return 0, 0, fmt.Errorf("limit must be an integer")
		}
		limit = v
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		v, err := strconv.Atoi(o)
		if err != nil {
			return 0, 0, fmt.Errorf("offset must be an integer")
		}
		offset = v
	}
	if limit < 1 || limit > maxPageLimit {
		return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageLimit)
	}
	if offset < 0 {
		return 0, 0, fmt.Errorf("offset must be non-negative")
	}
	return limit, offset, nil
}

/* parseID parses a uuid path variable */
func parseID(raw, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s must be a UUID: '%s'", name, raw)
	}
	return id, nil
}

func nonNegative(name string, v *decimal.Decimal) error {
	if v != nil && v.IsNegative() {
		return fmt.Errorf("%s must not be negative", name)
	}
	return nil
}

/* budgetBounds rejects a minimum above the maximum */
func budgetBounds(lo, hi decimal.NullDecimal) error {
	if lo.Valid && hi.Valid && lo.Decimal.GreaterThan(hi.Decimal) {
		return fmt.Errorf("min_daily_budget_usd (%s) exceeds max_daily_budget_usd (%s)", lo.Decimal, hi.Decimal)
	}
	return nil
}

func nullable(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*v)
}
