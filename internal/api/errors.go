package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// FieldIssue describes one failed validation rule.
type FieldIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

var registerTagNames sync.Once

// useJSONFieldNames makes validator report json tag names instead of Go field names.
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindingIssues turns a ShouldBindJSON error into caller-facing details.
func bindingIssues(err error) []FieldIssue {
	var (
		verrs   validator.ValidationErrors
		typeErr *json.UnmarshalTypeError
		synErr  *json.SyntaxError
	)
	switch {
	case errors.As(err, &verrs):
		issues := make([]FieldIssue, 0, len(verrs))
		for _, fe := range verrs {
			issues = append(issues, FieldIssue{Field: fe.Field(), Rule: fe.Tag(), Message: ruleMessage(fe)})
		}
		return issues
	case errors.As(err, &typeErr):
		return []FieldIssue{{Field: typeErr.Field, Rule: "type", Message: "expected " + typeErr.Type.String()}}
	case errors.As(err, &synErr), errors.Is(err, io.ErrUnexpectedEOF):
		return []FieldIssue{{Rule: "json", Message: "malformed JSON body"}}
	case errors.Is(err, io.EOF):
		return []FieldIssue{{Rule: "required", Message: "request body is required"}}
	default:
		return []FieldIssue{{Rule: "json", Message: "request body could not be decoded"}}
	}
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a UUID"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " rule"
	}
}

func respondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func respondValidation(c *gin.Context, issues []FieldIssue) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request payload",
		"details": issues,
	})
}
