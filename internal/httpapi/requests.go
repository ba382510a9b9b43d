package httpapi

import (
	"reflect"
	"strings"

	"github.com/gofiber/fiber/v2"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/querygate/gateway/internal/apperrors"
)

var bodyValidator = newBodyValidator()

func newBodyValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// decodeAndValidate parses the request body into dst and runs struct tag
// validation, returning a client-input error for a malformed body and a
// validation error when a struct tag check fails.
func decodeAndValidate(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.Wrap(apperrors.KindClientInput, "malformed request body", err)
	}

	if err := bodyValidator.Struct(dst); err != nil {
		return apperrors.Wrap(apperrors.KindValidation, "request validation failed", err)
	}

	return nil
}

type connectionTestRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=postgresql mysql mongodb"`
	ConnectionURL string `json:"connectionUrl" validate:"required"`
}

type connectionConnectRequest struct {
	Kind               string `json:"kind" validate:"required,oneof=postgresql mysql mongodb"`
	ConnectionURL      string `json:"connectionUrl" validate:"required"`
	UserID             string `json:"userId"`
	IsIsolated         bool   `json:"isIsolated"`
	UseDefaultDatabase bool   `json:"useDefaultDatabase"`
}

type sessionIDRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

type keepaliveRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

type queryExecuteRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Query     string `json:"query" validate:"required"`
	Database  string `json:"database"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	Explain   bool   `json:"explain"`
}

type queryExportRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Query     string `json:"query" validate:"required"`
	Database  string `json:"database"`
	Format    string `json:"format" validate:"required,oneof=csv json"`
}

type transactionRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
	Action    string `json:"action" validate:"required,oneof=begin commit rollback"`
}
