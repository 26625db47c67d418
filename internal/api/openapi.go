package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/gaspardpetit/promptrelay/internal/logx"
)

const (
	GenerateTextPath = "/openai/generate-text"
	HealthPath       = "/healthz"
	OpenAPIPath      = "/openapi.json"
	DocsPath         = "/docs"
)

var (
	// ErrInvalidRequest marks a body that does not match the prompt schema.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPromptTooLarge marks a prompt over the configured length limit.
	ErrPromptTooLarge = errors.New("prompt too large")
)

// PromptSchema describes the PromptRequest body: an object with a required,
// non-empty prompt of at most maxChars characters.
func PromptSchema(maxChars int) *openapi3.Schema {
	prompt := openapi3.NewStringSchema().WithMinLength(1)
	if maxChars > 0 {
		prompt = prompt.WithMaxLength(int64(maxChars))
	}
	s := openapi3.NewObjectSchema().WithProperty("prompt", prompt)
	s.Required = []string{"prompt"}
	return s
}

// DecodePrompt validates body against schema and returns the prompt.
func DecodePrompt(schema *openapi3.Schema, body []byte) (string, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := schema.VisitJSON(v); err != nil {
		var se *openapi3.SchemaError
		if errors.As(err, &se) && se.SchemaField == "maxLength" {
			return "", ErrPromptTooLarge
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	m, _ := v.(map[string]any)
	prompt, _ := m["prompt"].(string)
	return prompt, nil
}

func textResponse(desc string) *openapi3.ResponseRef {
	return &openapi3.ResponseRef{Value: openapi3.NewResponse().
		WithDescription(desc).
		WithContent(openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/plain"}))}
}

// Document builds the OpenAPI description of the relay surface.
func Document(version string, maxChars int) *openapi3.T {
	gen := openapi3.NewOperation()
	gen.OperationID = "generateText"
	gen.Summary = "Relay a prompt to the upstream completion provider"
	gen.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithJSONSchema(PromptSchema(maxChars))}
	gen.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Completion text as a JSON string").
			WithJSONSchema(openapi3.NewStringSchema())}),
		openapi3.WithStatus(http.StatusBadRequest, textResponse("Invalid request")),
		openapi3.WithStatus(http.StatusRequestEntityTooLarge, textResponse("Prompt too large")),
		openapi3.WithStatus(http.StatusInternalServerError, textResponse("Error generating text")),
	)

	health := openapi3.NewOperation()
	health.OperationID = "getHealthz"
	health.Summary = "Server readiness"
	status := openapi3.NewObjectSchema().WithProperty("status", openapi3.NewStringSchema())
	health.Responses = openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Ready").WithJSONSchema(status)}),
		openapi3.WithStatus(http.StatusServiceUnavailable, &openapi3.ResponseRef{Value: openapi3.NewResponse().
			WithDescription("Not ready or draining").WithJSONSchema(status)}),
	)

	return &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "promptrelay API",
			Version: version,
		},
		Paths: openapi3.NewPaths(
			openapi3.WithPath(GenerateTextPath, &openapi3.PathItem{Post: gen}),
			openapi3.WithPath(HealthPath, &openapi3.PathItem{Get: health}),
		),
	}
}

// OpenAPIHandler serves the validated document as JSON.
func OpenAPIHandler(version string, maxChars int) http.HandlerFunc {
	doc := Document(version, maxChars)
	if err := doc.Validate(context.Background()); err != nil {
		logx.Log.Error().Err(err).Msg("openapi document invalid")
	}
	b, err := json.Marshal(doc)
	if err != nil {
		logx.Log.Error().Err(err).Msg("marshal openapi document")
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			logx.Log.Error().Err(err).Msg("write openapi document")
		}
	}
}
